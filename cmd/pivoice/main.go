// Command pivoice is a push-to-talk voice assistant for single-board
// computers: press Enter, speak, read (and optionally hear) the reply.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/pivoice/internal/config"
	"github.com/MrWong99/pivoice/internal/dialogue"
	"github.com/MrWong99/pivoice/internal/memgov"
	"github.com/MrWong99/pivoice/internal/observe"
	"github.com/MrWong99/pivoice/internal/orchestrator"
	"github.com/MrWong99/pivoice/internal/recognition"
	"github.com/MrWong99/pivoice/internal/synthesis"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

// Exit codes.
const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
)

const farewell = "終了します。"

func main() {
	os.Exit(run(os.Args[1:], os.Getenv, os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, getenv func(string) string, stdin io.Reader, stdout, stderr io.Writer) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	flags, err := parseFlags(args, getenv, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "pivoice: %v\n", err)
		return exitConfig
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(flags, getenv)
	if err != nil {
		fmt.Fprintf(stderr, "pivoice: %v\n", err)
		return exitConfig
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: &level})))

	governor := memgov.New(memgov.WithWarnBelow(cfg.Memory.WarnBelowMB))
	if flags.checkMemory {
		printMemoryReport(stdout, governor.Sample(), governor.WarnBelowMB())
		return exitOK
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "pivoice"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitFatal
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	device, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		slog.Error("failed to open audio device", "name", cfg.Providers.Audio.Name, "err", err)
		return exitFatal
	}
	defer func() {
		if err := device.Close(); err != nil {
			slog.Warn("audio device close error", "err", err)
		}
	}()

	router := synthesis.New(
		synthesis.WithHTTPEngine(createEngine(reg, "tts", cfg.Providers.TTS, device)),
		synthesis.WithLocalEngine(createEngine(reg, "local_tts", cfg.Providers.LocalTTS, device)),
		synthesis.WithMetrics(metrics),
	)

	if flags.listVoices {
		ok, kind := router.Initialize(ctx, true)
		if !ok {
			fmt.Fprintln(stdout, "音声合成エンジンに接続できませんでした")
			return exitFatal
		}
		printVoices(stdout, kind, router.ListVoices())
		return exitOK
	}

	if err := config.RequireCredentials(cfg); err != nil {
		fmt.Fprintf(stderr, "pivoice: %v\n", err)
		return exitConfig
	}

	printStartupSummary(stdout, cfg)

	// ── Recognition ───────────────────────────────────────────────────────────
	tier, err := stt.ParseTier(cfg.Conversation.Tier)
	if err != nil {
		fmt.Fprintf(stderr, "pivoice: %v\n", err)
		return exitConfig
	}
	compute, err := stt.ParseCompute(cfg.Conversation.Compute)
	if err != nil {
		fmt.Fprintf(stderr, "pivoice: %v\n", err)
		return exitConfig
	}
	transcriber, err := reg.CreateSTT(cfg.Providers.STT, compute)
	if err != nil {
		slog.Error("failed to create recognition provider", "name", cfg.Providers.STT.Name, "err", err)
		return exitFatal
	}
	session := recognition.New(transcriber, recognition.WithSilenceRMS(cfg.Conversation.SilenceThreshold))
	defer session.Close()

	fmt.Fprintln(stdout, "Whisperモデルを読み込み中...")
	if snap := governor.Sample(); snap.Known() {
		if rec, err := memgov.RecommendTier(snap); err == nil && rec < tier {
			slog.Warn("requested model tier exceeds available memory", "requested", tier, "recommended", rec, "available_mb", snap.AvailableMB)
		}
	}
	loaded, code, quit := loadModel(ctx, session, tier, stdout)
	if quit {
		return code
	}
	slog.Info("recognition model loaded", "tier", loaded, "compute", compute)

	// ── Dialogue ──────────────────────────────────────────────────────────────
	fmt.Fprintf(stdout, "%sを初期化中...\n", llmLabel(cfg.Providers.LLM.Name))
	provider, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to create llm provider", "name", cfg.Providers.LLM.Name, "err", err)
		return exitFatal
	}
	style, err := dialogue.ParsePromptStyle(string(cfg.Conversation.PromptStyle))
	if err != nil {
		fmt.Fprintf(stderr, "pivoice: %v\n", err)
		return exitConfig
	}
	client := dialogue.New(provider,
		dialogue.WithPromptStyle(style),
		dialogue.WithProviderName(cfg.Providers.LLM.Name),
		dialogue.WithMetrics(metrics),
	)

	// ── Synthesis ─────────────────────────────────────────────────────────────
	speech := false
	if cfg.Synthesis.Enabled {
		fmt.Fprintln(stdout, "音声合成を初期化中...")
		ok, kind := router.Initialize(ctx, cfg.Synthesis.PreferHTTP)
		if ok {
			fmt.Fprintf(stdout, "✓ %sで音声出力が有効です\n", engineLabel(kind))
			speech = true
		} else {
			fmt.Fprintln(stdout, "⚠ 音声合成の初期化に失敗しました（テキスト出力のみ）")
		}
	}

	// ── Orchestrator ──────────────────────────────────────────────────────────
	orch, err := orchestrator.New(orchestrator.Config{
		Device:        device,
		Recognizer:    session,
		Responder:     client,
		Trigger:       orchestrator.NewLineTrigger(stdin, stdout),
		Speaker:       router,
		SpeechEnabled: speech,
		Memory:        governor,
		AdaptiveTier:  cfg.Conversation.AdaptiveTier,
		Capture:       cfg.Conversation.CaptureDuration(),
		Settings:      settingsFrom(cfg, router),
		Out:           stdout,
		Metrics:       metrics,
	})
	if err != nil {
		slog.Error("failed to initialise orchestrator", "err", err)
		return exitFatal
	}

	fmt.Fprintln(stdout, "準備完了。Enterで録音開始（Ctrl+Cで終了）")

	runErr := serve(ctx, serveConfig{
		cfg:      cfg,
		flags:    flags,
		getenv:   getenv,
		level:    &level,
		orch:     orch,
		dialogue: client,
		session:  session,
		governor: governor,
		router:   router,
		speech:   speech,
		metrics:  metrics,
		scrape:   tel.Handler(),
	})

	fmt.Fprintln(stdout)
	printSessionSummary(stdout, orch.Stats())
	fmt.Fprintln(stdout, farewell)

	if runErr != nil {
		slog.Error("conversation loop stopped", "err", runErr)
		return exitFatal
	}
	return exitOK
}

// settingsFrom derives the per-turn settings from cfg. The voice is looked
// up in the router's catalogue; an unknown selector is passed through as an
// id so the engine can apply its own default.
// loadModel loads tier or the largest smaller tier that fits. quit reports
// that run must return code: exitOK with a farewell when ctx was cancelled
// during loading, exitFatal when no tier could be loaded.
func loadModel(ctx context.Context, session *recognition.Session, tier stt.Tier, stdout io.Writer) (loaded stt.Tier, code int, quit bool) {
	loaded, err := session.LoadWithFallback(ctx, tier)
	switch {
	case err == nil:
		return loaded, exitOK, false
	case ctx.Err() != nil:
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, farewell)
		return loaded, exitOK, true
	default:
		slog.Error("no recognition model could be loaded", "requested", tier, "err", err)
		return loaded, exitFatal, true
	}
}

func settingsFrom(cfg *config.Config, router *synthesis.Router) orchestrator.Settings {
	return orchestrator.Settings{
		SystemPrompt: cfg.Conversation.SystemPrompt,
		Language:     cfg.Conversation.Language,
		Voice:        resolveVoice(router, cfg.Synthesis),
		Params:       cfg.Synthesis.Params(),
	}
}

func resolveVoice(router *synthesis.Router, syn config.SynthesisConfig) tts.Voice {
	query := syn.VoiceQuery(router.Kind())
	if query == "" {
		return tts.Voice{}
	}
	if v, ok := router.ResolveVoice(query); ok {
		return v
	}
	if router.Kind() != tts.KindNone {
		slog.Warn("voice not found in engine catalogue, using it as an id", "voice", query, "engine", router.Kind())
	}
	return tts.Voice{ID: query}
}

func engineLabel(k tts.Kind) string {
	switch k {
	case tts.KindHTTP:
		return "VOICEVOX"
	case tts.KindLocal:
		return "espeak-ng"
	default:
		return string(k)
	}
}

func llmLabel(name string) string {
	switch name {
	case "gemini":
		return "Gemini"
	case "openai":
		return "OpenAI"
	case "":
		return "LLM"
	default:
		return name
	}
}
