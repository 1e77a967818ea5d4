package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pivoice/internal/config"
	"github.com/MrWong99/pivoice/internal/dialogue"
	"github.com/MrWong99/pivoice/internal/health"
	"github.com/MrWong99/pivoice/internal/memgov"
	"github.com/MrWong99/pivoice/internal/observe"
	"github.com/MrWong99/pivoice/internal/orchestrator"
	"github.com/MrWong99/pivoice/internal/recognition"
	"github.com/MrWong99/pivoice/internal/synthesis"
)

const shutdownTimeout = 5 * time.Second

type serveConfig struct {
	cfg      *config.Config
	flags    *cliFlags
	getenv   func(string) string
	level    *slog.LevelVar
	orch     *orchestrator.Orchestrator
	dialogue *dialogue.Client
	session  *recognition.Session
	governor *memgov.Governor
	router   *synthesis.Router
	speech   bool
	metrics  *observe.Metrics
	scrape   http.Handler
}

// serve runs the conversation loop together with the optional diagnostics
// server and config watcher. It returns when the loop ends; the other
// goroutines are stopped with it.
func serve(ctx context.Context, sc serveConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return sc.orch.Run(gctx)
	})

	if addr := sc.cfg.Server.ListenAddr; addr != "" {
		srv := newDiagnosticsServer(addr, sc)
		g.Go(func() error {
			slog.Info("diagnostics server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("diagnostics server failed", "addr", addr, "err", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	if sc.flags.configPath != "" {
		w, err := config.NewWatcher(sc.flags.configPath, reloader(sc), config.WithOverlay(func(cfg *config.Config) error {
			if err := sc.flags.overlay(sc.getenv)(cfg); err != nil {
				return err
			}
			return config.RequireCredentials(cfg)
		}))
		if err != nil {
			slog.Warn("config hot-reload disabled", "path", sc.flags.configPath, "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	return g.Wait()
}

// newDiagnosticsServer builds the /healthz, /readyz and /metrics server.
func newDiagnosticsServer(addr string, sc serveConfig) *http.Server {
	checkers := []health.Checker{
		health.Recognition(sc.session),
		health.Memory(sc.governor),
		health.Dialogue(sc.dialogue),
	}
	if sc.speech {
		checkers = append(checkers, health.Synthesis(sc.router))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", sc.scrape)

	return &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler: observe.Middleware(sc.metrics,
			observe.WithUntracedPaths("/metrics"),
			observe.WithKnownPaths("/healthz", "/readyz", "/metrics"),
		)(mux),
	}
}

// reloader returns the watcher callback. Hot fields are applied to the
// running loop; everything else is logged as needing a restart.
func reloader(sc serveConfig) func(old, new *config.Config) {
	return func(old, new *config.Config) {
		d := config.Diff(old, new)

		if d.LogLevelChanged {
			sc.level.Set(d.NewLogLevel.SlogLevel())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}

		if d.SystemPromptChanged || d.LanguageChanged || d.VoiceChanged || d.ParamsChanged {
			sc.orch.UpdateSettings(func(s *orchestrator.Settings) {
				if d.SystemPromptChanged {
					s.SystemPrompt = new.Conversation.SystemPrompt
				}
				if d.LanguageChanged {
					s.Language = new.Conversation.Language
				}
				if d.VoiceChanged {
					s.Voice = resolveVoice(sc.router, new.Synthesis)
				}
				if d.ParamsChanged {
					s.Params = new.Synthesis.Params()
				}
			})
			slog.Info("conversation settings reloaded",
				"system_prompt", d.SystemPromptChanged,
				"language", d.LanguageChanged,
				"voice", d.VoiceChanged,
				"params", d.ParamsChanged,
			)
		}

		if len(d.RestartRequired) > 0 {
			slog.Warn("config fields changed that take effect only after a restart", "fields", d.RestartRequired)
		}
	}
}
