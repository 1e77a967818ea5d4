package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/pivoice/internal/config"
)

const (
	pollEvery = 20 * time.Millisecond
	settle    = 10 * pollEvery
	waitLimit = 2 * time.Second
)

const baseYAML = `
server:
  log_level: info
providers:
  llm:
    name: gemini
    api_key: g-test
conversation:
  tier: small
`

const promptYAML = `
server:
  log_level: debug
providers:
  llm:
    name: gemini
    api_key: g-test
conversation:
  tier: small
  system_prompt: 一文で答えてください
`

const badLevelYAML = `
server:
  log_level: bananas
`

// events collects watcher callbacks on channels so tests can wait for them.
type events struct {
	changes chan [2]*config.Config
	rejects chan error
}

func newEvents() *events {
	return &events{
		changes: make(chan [2]*config.Config, 8),
		rejects: make(chan error, 8),
	}
}

func (e *events) onChange(old, new *config.Config) { e.changes <- [2]*config.Config{old, new} }
func (e *events) onReject(err error) { e.rejects <- err }

func (e *events) nextChange(t *testing.T) (old, new *config.Config) {
	t.Helper()
	select {
	case c := <-e.changes:
		return c[0], c[1]
	case err := <-e.rejects:
		t.Fatalf("file rejected instead of published: %v", err)
	case <-time.After(waitLimit):
		t.Fatal("no reload within time limit")
	}
	return nil, nil
}

func (e *events) nextReject(t *testing.T) error {
	t.Helper()
	select {
	case err := <-e.rejects:
		return err
	case c := <-e.changes:
		t.Fatalf("file published instead of rejected: %+v", c[1])
	case <-time.After(waitLimit):
		t.Fatal("no rejection within time limit")
	}
	return nil
}

func (e *events) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case c := <-e.changes:
		t.Errorf("unexpected reload: %+v", c[1])
	case err := <-e.rejects:
		t.Errorf("unexpected rejection: %v", err)
	case <-time.After(settle):
	}
}

// startWatcher writes content to a fresh file, creates a watcher reporting
// to a new events recorder, and runs it until the test ends.
func startWatcher(t *testing.T, content string, opts ...config.WatcherOption) (string, *config.Watcher, *events) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pivoice.yaml")
	save(t, path, content)

	ev := newEvents()
	opts = append([]config.WatcherOption{config.WithInterval(pollEvery), config.WithRejectHandler(ev.onReject)}, opts...)
	w, err := config.NewWatcher(path, ev.onChange, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return path, w, ev
}

// save writes content and pushes the mtime forward so coarse filesystem
// timestamps still register the change.
func save(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	bump(t, path)
}

func bump(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	next := info.ModTime().Add(time.Second)
	if now := time.Now(); next.Before(now) {
		next = now
	}
	if err := os.Chtimes(path, next, next); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestNewWatcher(t *testing.T) {
	t.Parallel()

	_, w, _ := startWatcher(t, baseYAML)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("initial log level = %q, want info", got)
	}

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("NewWatcher on a missing file succeeded")
	}
}

func TestWatcher_PublishesEdit(t *testing.T) {
	t.Parallel()
	path, w, ev := startWatcher(t, baseYAML)

	save(t, path, promptYAML)
	old, cur := ev.nextChange(t)

	if old.Server.LogLevel != config.LogInfo || cur.Server.LogLevel != config.LogDebug {
		t.Errorf("log level %q → %q, want info → debug", old.Server.LogLevel, cur.Server.LogLevel)
	}
	if w.Current() != cur {
		t.Error("Current() is not the published config")
	}
	d := config.Diff(old, cur)
	if !d.SystemPromptChanged || !d.LogLevelChanged || len(d.RestartRequired) != 0 {
		t.Errorf("diff = %+v, want hot prompt and log level changes only", d)
	}
}

func TestWatcher_FileEventsWithoutPolling(t *testing.T) {
	t.Parallel()
	path, w, ev := startWatcher(t, baseYAML, config.WithInterval(time.Hour))

	// The first change may be found by Run's startup check; once it is
	// published the directory watch is in place.
	save(t, path, promptYAML)
	ev.nextChange(t)

	save(t, path, baseYAML)
	if _, cur := ev.nextChange(t); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("log level = %q, want info", cur.Server.LogLevel)
	}

	// Editors that write a temporary file and rename it over the original.
	tmp := filepath.Join(filepath.Dir(path), ".pivoice.yaml.swp")
	save(t, tmp, promptYAML)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, cur := ev.nextChange(t); cur.Conversation.SystemPrompt != "一文で答えてください" {
		t.Errorf("system prompt = %q after rename save", cur.Conversation.SystemPrompt)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Error("Current() does not reflect the renamed file")
	}
}

func TestWatcher_TouchIsIgnored(t *testing.T) {
	t.Parallel()
	path, _, ev := startWatcher(t, baseYAML)

	bump(t, path)
	ev.expectQuiet(t)
}

func TestWatcher_RejectsBadContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		check   func(t *testing.T, err error)
	}{
		{
			name:    "invalid value",
			content: badLevelYAML,
			check: func(t *testing.T, err error) {
				var ce *config.ConfigError
				if !errors.As(err, &ce) || ce.Field != "server.log_level" {
					t.Errorf("err = %v, want server.log_level ConfigError", err)
				}
			},
		},
		{
			name:    "empty file",
			content: "  \n",
		},
		{
			name:    "unknown key",
			content: "conversation:\n  tempo: fast\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path, w, ev := startWatcher(t, baseYAML)

			save(t, path, tt.content)
			err := ev.nextReject(t)
			if tt.check != nil {
				tt.check(t, err)
			}
			if got := w.Current().Server.LogLevel; got != config.LogInfo {
				t.Errorf("Current() log level = %q, previous config not kept", got)
			}

			// The same broken bytes saved again stay silent.
			bump(t, path)
			ev.expectQuiet(t)

			// A fixed file is picked up normally.
			save(t, path, promptYAML)
			ev.nextChange(t)
		})
	}
}

func TestWatcher_Overlay(t *testing.T) {
	t.Parallel()
	forceTiny := func(cfg *config.Config) error {
		cfg.Conversation.Tier = "tiny"
		return nil
	}
	path, w, ev := startWatcher(t, baseYAML, config.WithOverlay(forceTiny))

	if got := w.Current().Conversation.Tier; got != "tiny" {
		t.Errorf("initial tier = %q, want overlay value tiny", got)
	}
	save(t, path, promptYAML)
	if _, cur := ev.nextChange(t); cur.Conversation.Tier != "tiny" {
		t.Errorf("reloaded tier = %q, want overlay value tiny", cur.Conversation.Tier)
	}
}

func TestWatcher_OverlayErrorRejects(t *testing.T) {
	t.Parallel()
	path, w, ev := startWatcher(t, baseYAML, config.WithOverlay(config.RequireCredentials))

	save(t, path, "providers:\n  llm:\n    name: openai\n")
	if err := ev.nextReject(t); !errors.Is(err, config.ErrMissingCredential) {
		t.Errorf("err = %v, want ErrMissingCredential", err)
	}
	if got := w.Current().Providers.LLM.Name; got != "gemini" {
		t.Errorf("Current() llm = %q, want gemini kept", got)
	}

	_, err := config.NewWatcher(path, nil, config.WithOverlay(config.RequireCredentials))
	if !errors.Is(err, config.ErrMissingCredential) {
		t.Errorf("initial load err = %v, want ErrMissingCredential", err)
	}
}

func TestWatcher_RunReturnsOnCancel(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pivoice.yaml")
	save(t, path, baseYAML)
	w, err := config.NewWatcher(path, nil, config.WithInterval(pollEvery))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(waitLimit):
		t.Fatal("Run did not return after cancel")
	}
}
