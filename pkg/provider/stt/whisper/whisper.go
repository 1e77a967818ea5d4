// Package whisper provides whisper.cpp-backed transcribers.
//
// [Provider] talks to a running whisper-server binary over its REST API:
// POST /load swaps the resident model and POST /inference transcribes one
// WAV upload. [NativeProvider] links whisper.cpp directly through its CGO
// bindings and keeps the model inside this process.
//
// Both name model files the way the whisper.cpp download script does:
// ggml-<tier>.bin for full precision and ggml-<tier>-q8_0.bin for the 8-bit
// quantised variants.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithModelDir("/opt/whisper/models"),
//	    whisper.WithCompute(stt.ComputeInt8),
//	)
//	model, err := p.Load(ctx, stt.TierSmall)
//	text, err := model.Transcribe(ctx, buf, "ja")
//	model.Close()
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

const defaultModelDir = "models"

// Compile-time assertion that Provider implements stt.Transcriber.
var _ stt.Transcriber = (*Provider)(nil)

// ModelFile returns the whisper.cpp file name for tier at precision c.
func ModelFile(tier stt.Tier, c stt.Compute) string {
	if c.Quantized() {
		return fmt.Sprintf("ggml-%s-q8_0.bin", tier)
	}
	return fmt.Sprintf("ggml-%s.bin", tier)
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModelDir sets the directory, as seen by the server, that holds the
// ggml model files. Defaults to "models".
func WithModelDir(dir string) Option {
	return func(p *Provider) {
		p.modelDir = dir
	}
}

// WithCompute selects the model precision. Defaults to [stt.ComputeInt8].
func WithCompute(c stt.Compute) Option {
	return func(p *Provider) {
		p.compute = c
	}
}

// WithHTTPClient replaces the HTTP client. The default has a 60 s timeout,
// which also bounds model loads on slow SD cards.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Transcriber backed by a whisper.cpp HTTP server.
// The server holds exactly one model, so Load replaces it server-side.
type Provider struct {
	serverURL  string
	modelDir   string
	compute    stt.Compute
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		modelDir:   defaultModelDir,
		compute:    stt.ComputeInt8,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Load asks the server to load the model file for tier via POST /load.
func (p *Provider) Load(ctx context.Context, tier stt.Tier) (stt.Model, error) {
	if !tier.IsValid() {
		return nil, fmt.Errorf("whisper: load: %w %d", stt.ErrUnknownTier, int(tier))
	}
	modelPath := path.Join(p.modelDir, ModelFile(tier, p.compute))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", modelPath); err != nil {
		return nil, fmt.Errorf("whisper: write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	if _, err := p.post(ctx, "/load", mw.FormDataContentType(), &body); err != nil {
		return nil, fmt.Errorf("whisper: load %q: %w", modelPath, err)
	}
	return &httpModel{p: p, tier: tier}, nil
}

// post sends a request to the server and returns the body of a 200 response.
func (p *Provider) post(ctx context.Context, endpoint, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// ---- httpModel --------------------------------------------------------------

// httpModel is the server-resident model loaded by Provider.Load.
type httpModel struct {
	p    *Provider
	tier stt.Tier
}

// Transcribe encodes buf as a WAV file and POSTs it to the whisper.cpp
// /inference endpoint as multipart/form-data.
func (m *httpModel) Transcribe(ctx context.Context, buf audio.Buffer, language string) (string, error) {
	wav := audio.EncodeWAV(buf.PCM, buf.Rate(), 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	data, err := m.p.post(ctx, "/inference", mw.FormDataContentType(), &body)
	if err != nil {
		return "", fmt.Errorf("whisper: inference (%s): %w", m.tier, err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// Close is a no-op: the server keeps its model until the next /load.
func (m *httpModel) Close() error { return nil }
