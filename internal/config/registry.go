package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/llm"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no
// factory exists under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

type (
	// LLMFactory builds a dialogue backend.
	LLMFactory func(entry ProviderEntry) (llm.Provider, error)

	// STTFactory builds a recognition backend at the given model precision.
	STTFactory func(entry ProviderEntry, compute stt.Compute) (stt.Transcriber, error)

	// TTSFactory builds a synthesis engine. player is the sound device the
	// engine plays through; engines that play by themselves may ignore it.
	TTSFactory func(entry ProviderEntry, player audio.Player) (tts.Engine, error)

	// AudioFactory builds a sound device.
	AudioFactory func(entry ProviderEntry) (audio.Device, error)
)

// factories is one kind's name → constructor table.
type factories[F any] struct {
	kind string
	m    map[string]F
}

func (f *factories[F]) lookup(name string) (F, error) {
	fn, ok := f.m[name]
	if !ok {
		var zero F
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	return fn, nil
}

func (f *factories[F]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to constructors, one table per provider
// kind. Registering a name twice replaces the earlier factory. It is safe
// for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	llm   factories[LLMFactory]
	stt   factories[STTFactory]
	tts   factories[TTSFactory]
	audio factories[AudioFactory]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:   factories[LLMFactory]{kind: "llm", m: map[string]LLMFactory{}},
		stt:   factories[STTFactory]{kind: "stt", m: map[string]STTFactory{}},
		tts:   factories[TTSFactory]{kind: "tts", m: map[string]TTSFactory{}},
		audio: factories[AudioFactory]{kind: "audio", m: map[string]AudioFactory{}},
	}
}

// ── Registration ─────────────────────────────────────────────────────────────

func (r *Registry) RegisterLLM(name string, f LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = f
}

func (r *Registry) RegisterSTT(name string, f STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = f
}

// RegisterTTS registers a synthesis engine. The same table serves both the
// tts and local_tts slots.
func (r *Registry) RegisterTTS(name string, f TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = f
}

func (r *Registry) RegisterAudio(name string, f AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.m[name] = f
}

// Names returns the registered names for kind ("llm", "stt", "tts" or
// "audio") in sorted order, or nil for an unknown kind.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case r.llm.kind:
		return r.llm.names()
	case r.stt.kind:
		return r.stt.names()
	case r.tts.kind:
		return r.tts.names()
	case r.audio.kind:
		return r.audio.names()
	}
	return nil
}

// ── Construction ─────────────────────────────────────────────────────────────

// CreateLLM builds the LLM provider named by entry.Name. Factory errors are
// returned unchanged.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	f, err := r.llm.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry)
}

func (r *Registry) CreateSTT(entry ProviderEntry, compute stt.Compute) (stt.Transcriber, error) {
	r.mu.RLock()
	f, err := r.stt.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry, compute)
}

func (r *Registry) CreateTTS(entry ProviderEntry, player audio.Player) (tts.Engine, error) {
	r.mu.RLock()
	f, err := r.tts.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry, player)
}

func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Device, error) {
	r.mu.RLock()
	f, err := r.audio.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry)
}
