package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/MrWong99/pivoice/internal/config"
)

// cliFlags holds the parsed command line. Only flags the user actually set
// override the config file and environment.
type cliFlags struct {
	configPath  string
	seconds     float64
	model       string
	compute     string
	lang        string
	enableTTS   bool
	speakerID   string
	system      string
	listVoices  bool
	checkMemory bool

	set map[string]bool
}

// parseFlags parses args (without the program name). The defaults shown in
// -help already include environment fallbacks so the usage text matches
// what a run would do.
func parseFlags(args []string, getenv func(string) string, stderr io.Writer) (*cliFlags, error) {
	def := config.Default()
	config.ApplyEnv(def, getenv)

	f := &cliFlags{set: make(map[string]bool)}
	fs := flag.NewFlagSet("pivoice", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&f.configPath, "config", "", "optional YAML configuration file (hot-reloaded)")
	fs.Float64Var(&f.seconds, "seconds", def.Conversation.CaptureSeconds, "recording length of one turn in seconds")
	fs.StringVar(&f.model, "model", def.Conversation.Tier, "recognition model tier: tiny, base, small, medium, large (env WHISPER_MODEL)")
	fs.StringVar(&f.compute, "compute", def.Conversation.Compute, "model precision: int8, int8_float32, int16, float32 (env WHISPER_COMPUTE)")
	fs.StringVar(&f.lang, "lang", def.Conversation.Language, "recognition language code, e.g. ja or en (env LANG)")
	fs.BoolVar(&f.enableTTS, "enable-tts", def.Synthesis.Enabled, "speak replies")
	fs.StringVar(&f.speakerID, "speaker-id", def.Synthesis.SpeakerID, "VOICEVOX speaker id or name (env VOICEVOX_SPEAKER_ID)")
	fs.StringVar(&f.system, "system", def.Conversation.SystemPrompt, "system prompt (env SYSTEM_PROMPT)")
	fs.BoolVar(&f.listVoices, "list-voices", false, "list the voices of the available speech engine and exit")
	fs.BoolVar(&f.checkMemory, "check-memory", false, "print memory status and the recommended model tier and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

// apply copies explicitly set flags onto cfg.
func (f *cliFlags) apply(cfg *config.Config) {
	if f.set["seconds"] {
		cfg.Conversation.CaptureSeconds = f.seconds
	}
	if f.set["model"] {
		cfg.Conversation.Tier = f.model
	}
	if f.set["compute"] {
		cfg.Conversation.Compute = f.compute
	}
	if f.set["lang"] {
		cfg.Conversation.Language = f.lang
	}
	if f.set["enable-tts"] {
		cfg.Synthesis.Enabled = f.enableTTS
	}
	if f.set["speaker-id"] {
		cfg.Synthesis.SpeakerID = f.speakerID
	}
	if f.set["system"] {
		cfg.Conversation.SystemPrompt = f.system
	}
}

// loadConfig builds the effective configuration: defaults, the optional
// file, the environment, then flags. The result is validated.
func loadConfig(f *cliFlags, getenv func(string) string) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}
	if err := f.overlay(getenv)(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay returns the env-and-flags step used both at startup and by the
// config watcher on every reload.
func (f *cliFlags) overlay(getenv func(string) string) func(*config.Config) error {
	return func(cfg *config.Config) error {
		config.ApplyEnv(cfg, getenv)
		f.apply(cfg)
		return config.Validate(cfg)
	}
}
