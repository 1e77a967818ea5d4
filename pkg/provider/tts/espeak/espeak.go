// Package espeak provides a tts.Engine that drives the espeak-ng command line
// synthesiser installed on the host.
//
// espeak-ng synthesises and plays in one blocking call, so Speak needs no
// audio device of its own. Voices are addressed by their index in the table
// printed by "espeak-ng --voices"; an out-of-range index falls back to the
// engine's default voice.
package espeak

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Engine = (*Engine)(nil)

const (
	// DefaultBinary is the executable looked up on PATH.
	DefaultBinary = "espeak-ng"

	baseWPM    = 175
	wpmPerRate = 15
)

// Runner executes name with args and returns its combined output. It is the
// seam tests use to replace the real binary.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithBinary sets the espeak-ng executable. Defaults to "espeak-ng".
func WithBinary(path string) Option {
	return func(e *Engine) {
		if path != "" {
			e.binary = path
		}
	}
}

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(e *Engine) {
		if r != nil {
			e.run = r
		}
	}
}

// entry is one row of the voice table.
type entry struct {
	voice tts.Voice
	// selector is what -v accepts for this row.
	selector string
}

// Engine is safe for concurrent use.
type Engine struct {
	binary string
	run    Runner

	mu     sync.Mutex
	voices []entry
}

// New returns an Engine. It does not check that the binary exists; call
// Probe for that.
func New(opts ...Option) *Engine {
	e := &Engine{binary: DefaultBinary, run: execRunner}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Kind implements tts.Engine.
func (e *Engine) Kind() tts.Kind { return tts.KindLocal }

// Probe implements tts.Engine by running "espeak-ng --version".
func (e *Engine) Probe(ctx context.Context) error {
	if _, err := e.run(ctx, e.binary, "--version"); err != nil {
		return fmt.Errorf("espeak: probe: %w", err)
	}
	return nil
}

// ListVoices implements tts.Engine. Each voice's ID is its index in the
// table, its Name the espeak description and its Tags the language code.
// The table is cached for later Speak calls.
func (e *Engine) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	entries, err := e.table(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make([]tts.Voice, len(entries))
	for i, en := range entries {
		out[i] = en.voice
	}
	return out, nil
}

// Speak implements tts.Engine. params.Rate is clamped to [-10, 10] and
// mapped to words per minute; the HTTP scale fields are ignored.
func (e *Engine) Speak(ctx context.Context, text string, voice tts.Voice, params tts.Params) error {
	wpm := baseWPM + wpmPerRate*tts.ClampRate(params.Rate)
	args := []string{"-s", strconv.Itoa(wpm)}

	if idx, ok := voice.Index(); ok {
		entries, err := e.table(ctx, false)
		if err != nil {
			slog.Warn("espeak: voice table unavailable, using default voice", "voice", voice.ID, "err", err)
		}
		if idx >= 0 && idx < len(entries) {
			args = append(args, "-v", entries[idx].selector)
		}
	}
	// "--" keeps text starting with a dash from being read as a flag.
	args = append(args, "--", text)

	if out, err := e.run(ctx, e.binary, args...); err != nil {
		return fmt.Errorf("espeak: speak: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// table returns the voice table, reading it once unless refresh is set.
func (e *Engine) table(ctx context.Context, refresh bool) ([]entry, error) {
	e.mu.Lock()
	cached := e.voices
	e.mu.Unlock()
	if cached != nil && !refresh {
		return cached, nil
	}

	out, err := e.run(ctx, e.binary, "--voices")
	if err != nil {
		return nil, fmt.Errorf("espeak: list voices: %w", err)
	}
	entries, err := parseVoices(out)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.voices = entries
	e.mu.Unlock()
	return entries, nil
}

// parseVoices reads the table printed by --voices:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  af              --/M      Afrikaans          gmw/af
func parseVoices(out []byte) ([]entry, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	header := false
	entries := []entry{}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if !header {
			if len(fields) < 2 || fields[0] != "Pty" {
				return nil, &tts.ParseError{Engine: "espeak", What: "voices", Err: fmt.Errorf("unexpected header %q", line)}
			}
			header = true
			continue
		}
		if len(fields) < 5 {
			return nil, &tts.ParseError{Engine: "espeak", What: "voices", Err: fmt.Errorf("short row %q", line)}
		}
		lang, name, file := fields[1], fields[3], fields[4]
		entries = append(entries, entry{
			voice: tts.Voice{
				ID:   strconv.Itoa(len(entries)),
				Name: strings.ReplaceAll(name, "_", " "),
				Tags: []string{lang},
			},
			selector: file,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, &tts.ParseError{Engine: "espeak", What: "voices", Err: err}
	}
	if !header {
		return nil, &tts.ParseError{Engine: "espeak", What: "voices", Err: fmt.Errorf("empty output")}
	}
	return entries, nil
}
