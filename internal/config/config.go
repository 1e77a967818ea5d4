// Package config provides the configuration schema, loader, and provider registry
// for pivoice.
//
// Values are layered, lowest precedence first: [Default], the optional YAML
// file, environment variables ([ApplyEnv]) and finally command-line flags,
// which cmd/pivoice applies itself.
package config

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto a [slog.Level]. Unknown or empty levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// PromptStyle selects how the system prompt reaches the completion model.
type PromptStyle string

const (
	// PromptSystem sends the prompt in the request's system field.
	PromptSystem PromptStyle = "system"

	// PromptInline prefixes the user message with the prompt.
	PromptInline PromptStyle = "inline"
)

// IsValid reports whether p is a recognised prompt style.
func (p PromptStyle) IsValid() bool {
	return p == PromptSystem || p == PromptInline
}

// DefaultSystemPrompt turns short utterances into polite Japanese.
const DefaultSystemPrompt = `あなたは「マスク型・丁寧変換アシスタント」です。あなたの目的は、ユーザーからの短い発話（入力）を相手に失礼がなく、自然で丁寧な日本語の文章に“変換”して返すことです。

以下のルールを厳密に守ってください。
- 出力は必ず日本語とします。顔文字、絵文字、専門的な機械語は使用しないでください。
- 1文は60〜90文字程度に収め、読点（、）は1文に2つまでとして、簡潔にしてください。
- 文章の内容は、ユーザーの発話の意図を尊重しつつ、ビジネスシーンになりすぎずに、カジュアルで自然な日本語に変換してください。
- ユーザーの発話が質問や依頼の場合は、相手に失礼のないよう、丁寧な表現に変換してください。
- ユーザーの発話が否定的な内容の場合は、相手を不快にさせないよう、柔らかい表現に変換してください。
`

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Conversation ConversationConfig `yaml:"conversation"`
	Synthesis    SynthesisConfig    `yaml:"synthesis"`
	Memory       MemoryConfig       `yaml:"memory"`
}

// ServerConfig holds the diagnostics listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz and /metrics
	// (e.g., ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It can be changed by hot reload.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which implementation to use for each external
// service. Each field selects a named factory in the [Registry].
type ProvidersConfig struct {
	LLM      ProviderEntry `yaml:"llm"`
	STT      ProviderEntry `yaml:"stt"`
	TTS      ProviderEntry `yaml:"tts"`
	LocalTTS ProviderEntry `yaml:"local_tts"`
	Audio    ProviderEntry `yaml:"audio"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "voicevox").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider, or a model
	// directory for local recognition.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] rendered as a string, or "" when absent.
func (e ProviderEntry) OptionString(key string) string {
	v, ok := e.Options[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// ConversationConfig shapes a single turn.
type ConversationConfig struct {
	// CaptureSeconds is the length of one recording.
	CaptureSeconds float64 `yaml:"capture_seconds"`

	// Language is the recognition language code ("ja", "en", ...). Empty
	// means: take it from LANG, else "ja".
	Language string `yaml:"language"`

	// SystemPrompt is sent with every completion.
	SystemPrompt string `yaml:"system_prompt"`

	// PromptStyle is "system" or "inline".
	PromptStyle PromptStyle `yaml:"prompt_style"`

	// Tier is the recognition model tier requested at startup.
	Tier string `yaml:"tier"`

	// Compute is the numeric precision of the recognition model.
	Compute string `yaml:"compute"`

	// AdaptiveTier lets each turn downgrade the model when memory shrinks.
	AdaptiveTier bool `yaml:"adaptive_tier"`

	// SilenceThreshold is the normalised RMS at or below which a capture is
	// treated as silence. Negative disables the gate.
	SilenceThreshold float64 `yaml:"silence_threshold"`
}

// CaptureDuration returns CaptureSeconds as a [time.Duration].
func (c ConversationConfig) CaptureDuration() time.Duration {
	return time.Duration(c.CaptureSeconds * float64(time.Second))
}

// SynthesisConfig controls spoken replies.
type SynthesisConfig struct {
	// Enabled turns speech output on.
	Enabled bool `yaml:"enabled"`

	// PreferHTTP tries the HTTP engine before the local one.
	PreferHTTP bool `yaml:"prefer_http"`

	// SpeakerID selects the HTTP engine's voice, by id or by name.
	SpeakerID string `yaml:"speaker_id"`

	// LocalVoiceID selects the local engine's voice, by index or by name.
	// Empty uses the engine default.
	LocalVoiceID string `yaml:"local_voice_id"`

	Speed      float64 `yaml:"speed"`
	Pitch      float64 `yaml:"pitch"`
	Intonation float64 `yaml:"intonation"`

	// Rate is the local engine's speaking rate in [-10, 10].
	Rate int `yaml:"rate"`
}

// Params returns the configured prosody values.
func (s SynthesisConfig) Params() tts.Params {
	return tts.Params{
		Speed:      s.Speed,
		Pitch:      s.Pitch,
		Intonation: s.Intonation,
		Rate:       s.Rate,
	}
}

// VoiceQuery returns the configured voice selector for an engine kind.
func (s SynthesisConfig) VoiceQuery(kind tts.Kind) string {
	if kind == tts.KindLocal {
		return strings.TrimSpace(s.LocalVoiceID)
	}
	return strings.TrimSpace(s.SpeakerID)
}

// MemoryConfig holds the memory governor's thresholds.
type MemoryConfig struct {
	// WarnBelowMB triggers a console warning before recognition when less
	// memory than this is available.
	WarnBelowMB int `yaml:"warn_below_mb"`
}
