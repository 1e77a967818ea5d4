package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/pivoice/internal/config"
	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/audio/portaudio"
	"github.com/MrWong99/pivoice/pkg/provider/llm"
	"github.com/MrWong99/pivoice/pkg/provider/llm/anyllm"
	"github.com/MrWong99/pivoice/pkg/provider/llm/openai"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
	"github.com/MrWong99/pivoice/pkg/provider/stt/whisper"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
	"github.com/MrWong99/pivoice/pkg/provider/tts/espeak"
	"github.com/MrWong99/pivoice/pkg/provider/tts/voicevox"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Every any-llm-go backend takes an optional API key and base URL; the
	// local servers ignore the key. openai is registered again below and
	// replaces the any-llm-go variant with the official SDK.
	for _, backend := range anyllm.Backends() {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(backend, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d, ok := optDuration(entry, "timeout"); ok {
			opts = append(opts, openai.WithTimeout(d))
		}
		p, err := openai.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry, compute stt.Compute) (stt.Transcriber, error) {
		modelDir := entry.Model
		if modelDir == "" {
			modelDir = entry.OptionString("model_dir")
		}
		opts := []whisper.NativeOption{whisper.WithNativeCompute(compute)}
		for _, tier := range stt.Tiers() {
			if file := entry.OptionString("file_" + tier.String()); file != "" {
				opts = append(opts, whisper.WithNativeModelFile(tier, file))
			}
		}
		p, err := whisper.NewNative(modelDir, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry, compute stt.Compute) (stt.Transcriber, error) {
		opts := []whisper.Option{whisper.WithCompute(compute)}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModelDir(entry.Model))
		}
		p, err := whisper.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("voicevox", func(entry config.ProviderEntry, player audio.Player) (tts.Engine, error) {
		var opts []voicevox.Option
		if d, ok := optDuration(entry, "timeout"); ok {
			opts = append(opts, voicevox.WithTimeout(d))
		}
		if dir := entry.OptionString("temp_dir"); dir != "" {
			opts = append(opts, voicevox.WithTempDir(dir))
		}
		p, err := voicevox.New(entry.BaseURL, player, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// espeak-ng plays by itself, so the player is unused.
	reg.RegisterTTS("espeak-ng", func(entry config.ProviderEntry, _ audio.Player) (tts.Engine, error) {
		return espeak.New(espeak.WithBinary(entry.OptionString("binary"))), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (audio.Device, error) {
		var opts []portaudio.Option
		if n, ok := optInt(entry, "capture_rate"); ok {
			opts = append(opts, portaudio.WithCaptureRate(n))
		}
		if n, ok := optInt(entry, "capture_channels"); ok {
			opts = append(opts, portaudio.WithCaptureChannels(n))
		}
		if n, ok := optInt(entry, "output_channels"); ok {
			opts = append(opts, portaudio.WithOutputChannels(n))
		}
		p, err := portaudio.New(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	for _, kind := range []string{"llm", "stt", "tts", "audio"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// createEngine builds an optional synthesis engine. An empty name or an
// unregistered provider yields nil with a log line.
func createEngine(reg *config.Registry, slot string, entry config.ProviderEntry, player audio.Player) tts.Engine {
	if entry.Name == "" {
		return nil
	}
	e, err := reg.CreateTTS(entry, player)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Warn("synthesis provider not available, skipping", "slot", slot, "name", entry.Name, "registered", reg.Names("tts"))
		return nil
	case err != nil:
		slog.Warn("failed to create synthesis provider", "slot", slot, "name", entry.Name, "err", err)
		return nil
	}
	slog.Info("provider created", "kind", slot, "name", entry.Name)
	return e
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func optInt(entry config.ProviderEntry, key string) (int, bool) {
	s := entry.OptionString(key)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		slog.Warn("ignoring non-integer provider option", "provider", entry.Name, "key", key, "value", s)
		return 0, false
	}
	return n, true
}

func optDuration(entry config.ProviderEntry, key string) (time.Duration, bool) {
	s := entry.OptionString(key)
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration provider option", "provider", entry.Name, "key", key, "value", s, "err", err)
		return 0, false
	}
	return d, true
}

// providerLabel renders "name / model" for the startup summary.
func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(not configured)"
	case e.Model != "":
		return fmt.Sprintf("%s / %s", e.Name, e.Model)
	default:
		return e.Name
	}
}
