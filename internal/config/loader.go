package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":       {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":       {"whisper-native", "whisper"},
	"tts":       {"voicevox"},
	"local_tts": {"espeak-ng"},
	"audio":     {"portaudio"},
}

// ConfigError reports a missing or invalid configuration value. It is fatal
// at startup.
type ConfigError struct {
	// Field is the dotted YAML path, e.g. "providers.llm.api_key".
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ErrMissingCredential is wrapped by the ConfigError [RequireCredentials]
// returns.
var ErrMissingCredential = errors.New("missing credential")

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo},
		Providers: ProvidersConfig{
			LLM:      ProviderEntry{Name: "gemini", Model: "gemini-1.5-flash"},
			STT:      ProviderEntry{Name: "whisper-native", Model: "models"},
			TTS:      ProviderEntry{Name: "voicevox", BaseURL: "http://127.0.0.1:50021"},
			LocalTTS: ProviderEntry{Name: "espeak-ng"},
			Audio:    ProviderEntry{Name: "portaudio"},
		},
		Conversation: ConversationConfig{
			CaptureSeconds:   8,
			SystemPrompt:     DefaultSystemPrompt,
			PromptStyle:      PromptSystem,
			Tier:             "small",
			Compute:          "int8",
			SilenceThreshold: 1e-4,
		},
		Synthesis: SynthesisConfig{
			PreferHTTP: true,
			SpeakerID:  "1",
			Speed:      1.0,
			Intonation: 1.0,
		},
		Memory: MemoryConfig{WarnBelowMB: 300},
	}
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Keys absent from the document keep their defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Err: fmt.Errorf("decode yaml: %w", err)}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg. getenv is usually
// os.Getenv. LANG only fills an unset language; every other variable
// overrides the file.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Conversation.Tier, "WHISPER_MODEL")
	set(&cfg.Conversation.Compute, "WHISPER_COMPUTE")
	set(&cfg.Synthesis.SpeakerID, "VOICEVOX_SPEAKER_ID")
	set(&cfg.Synthesis.LocalVoiceID, "LOCAL_VOICE_ID")
	set(&cfg.Providers.TTS.BaseURL, "VOICEVOX_URL")
	if v := getenv("SYSTEM_PROMPT"); strings.TrimSpace(v) != "" {
		cfg.Conversation.SystemPrompt = v
	}

	if cfg.Conversation.Language == "" {
		cfg.Conversation.Language = languageFromLocale(getenv("LANG"))
	}

	switch cfg.Providers.LLM.Name {
	case "gemini":
		set(&cfg.Providers.LLM.APIKey, "GOOGLE_API_KEY")
		set(&cfg.Providers.LLM.APIKey, "GEMINI_API_KEY")
		set(&cfg.Providers.LLM.Model, "GEMINI_MODEL")
	case "openai":
		set(&cfg.Providers.LLM.APIKey, "OPENAI_API_KEY")
	}
}

// languageFromLocale takes the first two letters of a locale such as
// "en_US.UTF-8". "C", "POSIX" and empty values yield "ja".
func languageFromLocale(locale string) string {
	locale = strings.TrimSpace(locale)
	if len(locale) < 2 || locale == "POSIX" || strings.HasPrefix(locale, "C.") || locale == "C" {
		return "ja"
	}
	return strings.ToLower(locale[:2])
}

// RequireCredentials checks that hosted completion providers have an API
// key. Local backends and providers whose SDK reads its own environment
// variable are not checked.
func RequireCredentials(cfg *Config) error {
	switch cfg.Providers.LLM.Name {
	case "gemini":
		if cfg.Providers.LLM.APIKey == "" {
			return &ConfigError{
				Field: "providers.llm.api_key",
				Err:   fmt.Errorf("%w: set GEMINI_API_KEY or GOOGLE_API_KEY", ErrMissingCredential),
			}
		}
	case "openai":
		if cfg.Providers.LLM.APIKey == "" {
			return &ConfigError{
				Field: "providers.llm.api_key",
				Err:   fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingCredential),
			}
		}
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error of *ConfigError values, one per failure.
func Validate(cfg *Config) error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Err: fmt.Errorf(format, args...)})
	}

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		fail("server.log_level", "%q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}

	// Unknown provider names only warn; third-party factories may be registered.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("local_tts", cfg.Providers.LocalTTS.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)

	if cfg.Providers.LLM.Name == "" {
		fail("providers.llm.name", "is required")
	}
	if cfg.Providers.STT.Name == "" {
		fail("providers.stt.name", "is required")
	}

	// Conversation
	conv := cfg.Conversation
	if conv.CaptureSeconds <= 0 {
		fail("conversation.capture_seconds", "%v must be positive", conv.CaptureSeconds)
	}
	if _, err := stt.ParseTier(conv.Tier); err != nil {
		fail("conversation.tier", "%q is invalid; valid values: tiny, base, small, medium, large", conv.Tier)
	}
	if _, err := stt.ParseCompute(conv.Compute); err != nil {
		fail("conversation.compute", "%q is invalid; valid values: int8, int8_float32, int16, float32", conv.Compute)
	}
	if conv.PromptStyle != "" && !conv.PromptStyle.IsValid() {
		fail("conversation.prompt_style", "%q is invalid; valid values: system, inline", conv.PromptStyle)
	}

	// Synthesis
	syn := cfg.Synthesis
	if syn.Speed != 0 && (syn.Speed < 0.5 || syn.Speed > 2.0) {
		fail("synthesis.speed", "%.2f is out of range [0.5, 2.0]", syn.Speed)
	}
	if syn.Pitch < -0.15 || syn.Pitch > 0.15 {
		fail("synthesis.pitch", "%.2f is out of range [-0.15, 0.15]", syn.Pitch)
	}
	if syn.Intonation < 0 || syn.Intonation > 2.0 {
		fail("synthesis.intonation", "%.2f is out of range [0, 2.0]", syn.Intonation)
	}
	if syn.Rate < -10 || syn.Rate > 10 {
		fail("synthesis.rate", "%d is out of range [-10, 10]", syn.Rate)
	}
	if syn.Enabled && cfg.Providers.TTS.Name == "" && cfg.Providers.LocalTTS.Name == "" {
		slog.Warn("synthesis is enabled but neither providers.tts nor providers.local_tts is configured; replies will be text only")
	}

	// Memory
	if cfg.Memory.WarnBelowMB < 0 {
		fail("memory.warn_below_mb", "%d must not be negative", cfg.Memory.WarnBelowMB)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, possibly a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
