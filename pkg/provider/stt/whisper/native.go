// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Transcriber.
var _ stt.Transcriber = (*NativeProvider)(nil)

// NativeProvider implements stt.Transcriber using whisper.cpp Go bindings
// (CGO). Each Load maps a model file into this process.
type NativeProvider struct {
	modelDir string
	compute  stt.Compute
	files    map[stt.Tier]string
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeCompute selects the model precision. Defaults to [stt.ComputeInt8].
func WithNativeCompute(c stt.Compute) NativeOption {
	return func(p *NativeProvider) { p.compute = c }
}

// WithNativeModelFile overrides the file loaded for tier. Relative paths are
// resolved against the model directory.
func WithNativeModelFile(tier stt.Tier, file string) NativeOption {
	return func(p *NativeProvider) { p.files[tier] = file }
}

// NewNative creates a NativeProvider that loads ggml model files from
// modelDir. No model is loaded until Load is called.
func NewNative(modelDir string, opts ...NativeOption) (*NativeProvider, error) {
	if modelDir == "" {
		return nil, errors.New("whisper: modelDir must not be empty")
	}
	p := &NativeProvider{
		modelDir: modelDir,
		compute:  stt.ComputeInt8,
		files:    make(map[stt.Tier]string),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ModelPath returns the file Load would read for tier.
func (p *NativeProvider) ModelPath(tier stt.Tier) string {
	file, ok := p.files[tier]
	if !ok {
		file = ModelFile(tier, p.compute)
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(p.modelDir, file)
}

// Load reads the model file for tier into memory.
func (p *NativeProvider) Load(ctx context.Context, tier stt.Tier) (stt.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if !tier.IsValid() {
		return nil, fmt.Errorf("whisper: load: %w %d", stt.ErrUnknownTier, int(tier))
	}
	path := p.ModelPath(tier)
	model, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", path, err)
	}
	slog.Debug("whisper native model loaded", "tier", tier, "path", path)
	return &nativeModel{model: model, tier: tier}, nil
}

// ---- nativeModel ------------------------------------------------------------

// nativeModel is a whisper.cpp model resident in this process.
type nativeModel struct {
	model whisperlib.Model
	tier  stt.Tier
	once  sync.Once
}

// Transcribe runs whisper.cpp inference on a fresh context and returns the
// concatenated segment text.
func (m *nativeModel) Transcribe(ctx context.Context, buf audio.Buffer, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	samples := audio.PCMToFloat32(audio.ResampleMono16(buf.PCM, buf.Rate(), audio.SampleRate))

	// A context is NOT thread-safe, but the model can be shared.
	wctx, err := m.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", language, "error", err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio (%s): %w", m.tier, err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	// Japanese and Chinese segments are joined without spaces.
	sep := " "
	if language == "ja" || language == "zh" {
		sep = ""
	}
	return strings.Join(parts, sep), nil
}

// Close releases the whisper model. Calling Close more than once is safe.
func (m *nativeModel) Close() error {
	var err error
	m.once.Do(func() {
		if m.model != nil {
			err = m.model.Close()
		}
	})
	return err
}
