package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/pivoice/internal/config"
	"github.com/MrWong99/pivoice/internal/memgov"
	"github.com/MrWong99/pivoice/internal/orchestrator"
	"github.com/MrWong99/pivoice/internal/recognition"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
	sttmock "github.com/MrWong99/pivoice/pkg/provider/stt/mock"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pivoice.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// ── flags ────────────────────────────────────────────────────────────────────

func TestParseFlags_RecordsOnlyExplicitFlags(t *testing.T) {
	t.Parallel()
	f, err := parseFlags([]string{"-seconds", "3", "-lang", "en"}, envFrom(nil), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	want := map[string]bool{"seconds": true, "lang": true}
	if diff := cmp.Diff(want, f.set); diff != "" {
		t.Errorf("set flags mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFlags_RejectsExtraArguments(t *testing.T) {
	t.Parallel()
	_, err := parseFlags([]string{"-seconds", "3", "hello"}, envFrom(nil), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "hello") {
		t.Fatalf("err = %v, want unexpected-argument error", err)
	}
}

func TestParseFlags_Help(t *testing.T) {
	t.Parallel()
	var stderr bytes.Buffer
	_, err := parseFlags([]string{"-h"}, envFrom(nil), &stderr)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("err = %v, want flag.ErrHelp", err)
	}
	if !strings.Contains(stderr.String(), "-check-memory") {
		t.Errorf("usage text missing -check-memory:\n%s", stderr.String())
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
conversation:
  capture_seconds: 6
  tier: base
  language: de
synthesis:
  speaker_id: "8"
`)
	env := envFrom(map[string]string{
		"WHISPER_MODEL":  "tiny",
		"GOOGLE_API_KEY": "g-key",
		"LANG":           "fr_FR.UTF-8",
	})
	f, err := parseFlags([]string{"-config", path, "-model", "medium", "-speaker-id", "2"}, env, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg, err := loadConfig(f, env)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	// File value survives where neither env nor flags say otherwise.
	if cfg.Conversation.CaptureSeconds != 6 {
		t.Errorf("CaptureSeconds = %v, want 6", cfg.Conversation.CaptureSeconds)
	}
	// LANG only fills an empty language.
	if cfg.Conversation.Language != "de" {
		t.Errorf("Language = %q, want %q", cfg.Conversation.Language, "de")
	}
	// Flag beats env beats file.
	if cfg.Conversation.Tier != "medium" {
		t.Errorf("Tier = %q, want %q", cfg.Conversation.Tier, "medium")
	}
	if cfg.Synthesis.SpeakerID != "2" {
		t.Errorf("SpeakerID = %q, want %q", cfg.Synthesis.SpeakerID, "2")
	}
	if cfg.Providers.LLM.APIKey != "g-key" {
		t.Errorf("APIKey = %q, want %q", cfg.Providers.LLM.APIKey, "g-key")
	}
}

func TestLoadConfig_EnvOverridesFileWithoutFlag(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "conversation:\n  tier: base\n")
	env := envFrom(map[string]string{"WHISPER_MODEL": "tiny"})
	f, err := parseFlags([]string{"-config", path}, env, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg, err := loadConfig(f, env)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Conversation.Tier != "tiny" {
		t.Errorf("Tier = %q, want %q", cfg.Conversation.Tier, "tiny")
	}
}

func TestLoadConfig_InvalidFlagValue(t *testing.T) {
	t.Parallel()
	f, err := parseFlags([]string{"-model", "huge"}, envFrom(nil), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	_, err = loadConfig(f, envFrom(nil))
	var ce *config.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *config.ConfigError", err)
	}
	if ce.Field != "conversation.tier" {
		t.Errorf("Field = %q, want %q", ce.Field, "conversation.tier")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Parallel()
	f, err := parseFlags([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, envFrom(nil), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if _, err := loadConfig(f, envFrom(nil)); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

// ── exit codes ───────────────────────────────────────────────────────────────

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"help", []string{"-h"}, exitOK},
		{"bad flag value", []string{"-seconds", "abc"}, exitConfig},
		{"unknown flag", []string{"-bogus"}, exitConfig},
		{"invalid config", []string{"-seconds", "0"}, exitConfig},
		{"memory report", []string{"-check-memory"}, exitOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			got := run(tc.args, envFrom(nil), strings.NewReader(""), &stdout, &stderr)
			if got != tc.want {
				t.Errorf("exit = %d, want %d (stderr: %s)", got, tc.want, stderr.String())
			}
		})
	}
}

func TestLoadModel(t *testing.T) {
	oom := errors.New("out of memory")
	allFail := map[stt.Tier]error{stt.TierBase: oom, stt.TierTiny: oom}

	t.Run("interrupted", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		tr := &sttmock.Transcriber{LoadErrs: allFail}
		tr.BeforeLoad = func(stt.Tier) { cancel() }
		var stdout bytes.Buffer

		_, code, quit := loadModel(ctx, recognition.New(tr), stt.TierBase, &stdout)
		if !quit || code != exitOK {
			t.Errorf("quit, code = %v, %d; want true, %d", quit, code, exitOK)
		}
		if !strings.Contains(stdout.String(), farewell) {
			t.Errorf("stdout = %q, want farewell", stdout.String())
		}
		if got := len(tr.Loads()); got > 1 {
			t.Errorf("%d load attempts after cancel, want at most 1", got)
		}
	})

	t.Run("no tier loads", func(t *testing.T) {
		var stdout bytes.Buffer
		_, code, quit := loadModel(context.Background(), recognition.New(&sttmock.Transcriber{LoadErrs: allFail}), stt.TierBase, &stdout)
		if !quit || code != exitFatal {
			t.Errorf("quit, code = %v, %d; want true, %d", quit, code, exitFatal)
		}
		if strings.Contains(stdout.String(), farewell) {
			t.Error("farewell printed for a load failure")
		}
	})

	t.Run("loaded", func(t *testing.T) {
		loaded, _, quit := loadModel(context.Background(), recognition.New(&sttmock.Transcriber{}), stt.TierBase, io.Discard)
		if quit || loaded != stt.TierBase {
			t.Errorf("loaded, quit = %v, %v; want base, false", loaded, quit)
		}
	})
}

// ── console output ───────────────────────────────────────────────────────────

func TestPrintMemoryReport(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printMemoryReport(&buf, memgov.Snapshot{TotalMB: 4000, AvailableMB: 2500, UsedPercent: 37.5, SwapUsedMB: 12}, 300)
	out := buf.String()

	for _, want := range []string{"2500 MB", "37.5%", "推奨モデル: small"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "⚠") {
		t.Errorf("unexpected low-memory warning:\n%s", out)
	}
}

func TestPrintMemoryReport_LowMemory(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printMemoryReport(&buf, memgov.Snapshot{TotalMB: 1000, AvailableMB: 200, UsedPercent: 80}, 300)
	out := buf.String()
	if !strings.Contains(out, "⚠") {
		t.Errorf("missing low-memory warning:\n%s", out)
	}
	if !strings.Contains(out, "推奨モデル: なし") {
		t.Errorf("missing insufficient-memory recommendation:\n%s", out)
	}
}

func TestPrintMemoryReport_Unknown(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printMemoryReport(&buf, memgov.Snapshot{}, 300)
	if !strings.Contains(buf.String(), "取得できませんでした") {
		t.Errorf("unexpected report for unknown snapshot:\n%s", buf.String())
	}
}

func TestPrintVoices_GroupsHTTPStyles(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printVoices(&buf, tts.KindHTTP, []tts.Voice{
		{ID: "2", Name: "四国めたん (ノーマル)"},
		{ID: "0", Name: "四国めたん (あまあま)"},
		{ID: "3", Name: "ずんだもん (ノーマル)"},
	})
	out := buf.String()

	if n := strings.Count(out, "📢 四国めたん"); n != 1 {
		t.Errorf("speaker header count = %d, want 1:\n%s", n, out)
	}
	for _, want := range []string{"   - ノーマル (ID: 2)", "   - あまあま (ID: 0)", "📢 ずんだもん"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "四国めたん") > strings.Index(out, "ずんだもん") {
		t.Errorf("speakers not in catalogue order:\n%s", out)
	}
}

func TestPrintVoices_LocalList(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printVoices(&buf, tts.KindLocal, []tts.Voice{{ID: "ja", Name: "Japanese", Tags: []string{"ja"}}})
	if !strings.Contains(buf.String(), "  - Japanese [ja] (ID: ja)") {
		t.Errorf("unexpected local listing:\n%s", buf.String())
	}
}

func TestSummaryRow_FixedWidth(t *testing.T) {
	t.Parallel()
	for _, value := range []string{"", "gemini", "ずんだもん", strings.Repeat("x", 60)} {
		var buf bytes.Buffer
		summaryRow(&buf, "LLM", value)
		line := strings.TrimSuffix(buf.String(), "\n")
		if got := utf8.RuneCountInString(line); got != 45 {
			t.Errorf("row for %q has %d runes, want 45: %q", value, got, line)
		}
	}
}

func TestPrintSessionSummary(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printSessionSummary(&buf, orchestrator.Stats{})
	if buf.Len() != 0 {
		t.Errorf("expected no summary without turns, got:\n%s", buf.String())
	}

	printSessionSummary(&buf, orchestrator.Stats{Turns: 3, Outcomes: map[string]int{"spoken": 2, "silent": 1}})
	out := buf.String()
	if strings.Index(out, "silent") > strings.Index(out, "spoken") {
		t.Errorf("outcomes not sorted:\n%s", out)
	}
}

func TestProviderLabel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		entry config.ProviderEntry
		want  string
	}{
		{config.ProviderEntry{}, "(not configured)"},
		{config.ProviderEntry{Name: "espeak-ng"}, "espeak-ng"},
		{config.ProviderEntry{Name: "gemini", Model: "gemini-1.5-flash"}, "gemini / gemini-1.5-flash"},
	}
	for _, tc := range tests {
		if got := providerLabel(tc.entry); got != tc.want {
			t.Errorf("providerLabel(%+v) = %q, want %q", tc.entry, got, tc.want)
		}
	}
}
