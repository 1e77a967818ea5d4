package config

import "reflect"

// ConfigDiff describes what changed between two configs.
//
// The first group of fields can be applied to a running conversation loop
// between turns. RestartRequired lists changed settings that only take
// effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SystemPromptChanged bool
	LanguageChanged     bool
	VoiceChanged        bool // speaker_id or local_voice_id
	ParamsChanged       bool // speed, pitch, intonation or rate

	// RestartRequired holds the YAML paths of changed settings that cannot
	// be hot-reloaded, e.g. "providers.llm" or "conversation.tier".
	RestartRequired []string
}

// HotChanged reports whether any hot-reloadable setting changed.
func (d ConfigDiff) HotChanged() bool {
	return d.LogLevelChanged || d.SystemPromptChanged || d.LanguageChanged ||
		d.VoiceChanged || d.ParamsChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oc, nc := old.Conversation, new.Conversation
	d.SystemPromptChanged = oc.SystemPrompt != nc.SystemPrompt
	d.LanguageChanged = oc.Language != nc.Language

	osyn, nsyn := old.Synthesis, new.Synthesis
	d.VoiceChanged = osyn.SpeakerID != nsyn.SpeakerID || osyn.LocalVoiceID != nsyn.LocalVoiceID
	d.ParamsChanged = osyn.Params() != nsyn.Params()

	restart := func(path string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("providers.llm", !reflect.DeepEqual(old.Providers.LLM, new.Providers.LLM))
	restart("providers.stt", !reflect.DeepEqual(old.Providers.STT, new.Providers.STT))
	restart("providers.tts", !reflect.DeepEqual(old.Providers.TTS, new.Providers.TTS))
	restart("providers.local_tts", !reflect.DeepEqual(old.Providers.LocalTTS, new.Providers.LocalTTS))
	restart("providers.audio", !reflect.DeepEqual(old.Providers.Audio, new.Providers.Audio))
	restart("conversation.capture_seconds", oc.CaptureSeconds != nc.CaptureSeconds)
	restart("conversation.prompt_style", oc.PromptStyle != nc.PromptStyle)
	restart("conversation.tier", oc.Tier != nc.Tier)
	restart("conversation.compute", oc.Compute != nc.Compute)
	restart("conversation.adaptive_tier", oc.AdaptiveTier != nc.AdaptiveTier)
	restart("conversation.silence_threshold", oc.SilenceThreshold != nc.SilenceThreshold)
	restart("synthesis.enabled", osyn.Enabled != nsyn.Enabled)
	restart("synthesis.prefer_http", osyn.PreferHTTP != nsyn.PreferHTTP)
	restart("memory.warn_below_mb", old.Memory.WarnBelowMB != new.Memory.WarnBelowMB)

	return d
}
