package orchestrator

import "github.com/MrWong99/pivoice/pkg/provider/tts"

// Settings are the per-turn values that config hot reload may replace
// between turns. A turn reads them once at its start.
type Settings struct {
	SystemPrompt string
	Language     string
	Voice        tts.Voice
	Params       tts.Params
}

// Settings returns the settings the next turn will use.
func (o *Orchestrator) Settings() Settings {
	return *o.settings.Load()
}

// SetSettings replaces the settings. A turn already running keeps the
// values it started with.
func (o *Orchestrator) SetSettings(s Settings) {
	o.settings.Store(&s)
}

// UpdateSettings applies fn to a copy of the current settings and stores the
// result.
func (o *Orchestrator) UpdateSettings(fn func(*Settings)) {
	for {
		old := o.settings.Load()
		next := *old
		fn(&next)
		if o.settings.CompareAndSwap(old, &next) {
			return
		}
	}
}
