// Package synthesis selects one speech engine for the lifetime of the
// process and exposes a single Speak entry point over it.
//
// The [Router] is a small state machine:
//
//	Unprobed --Initialize--> HTTPActive | LocalActive | Unavailable
//
// Initialize probes the candidates in a fixed order and keeps the first that
// answers. Speak only ever talks to that engine; a failure is reported for
// the call and nothing else happens until Initialize runs again.
package synthesis

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/pivoice/internal/observe"
	"github.com/MrWong99/pivoice/internal/resilience"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

// DefaultProbeTimeout bounds each engine liveness probe.
const DefaultProbeTimeout = 3 * time.Second

// minVoiceScore is the Jaro-Winkler score a fuzzy voice name match needs.
const minVoiceScore = 0.85

// State is the router's engine selection state.
type State int

const (
	StateUnprobed State = iota
	StateHTTPActive
	StateLocalActive
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateUnprobed:
		return "unprobed"
	case StateHTTPActive:
		return "http-active"
	case StateLocalActive:
		return "local-active"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Option is a functional option for configuring a Router.
type Option func(*Router)

// WithHTTPEngine sets the HTTP engine candidate.
func WithHTTPEngine(e tts.Engine) Option {
	return func(r *Router) { r.httpEngine = e }
}

// WithLocalEngine sets the local OS engine candidate.
func WithLocalEngine(e tts.Engine) Option {
	return func(r *Router) { r.localEngine = e }
}

// WithProbeTimeout overrides [DefaultProbeTimeout].
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// WithMetrics records synthesis latency and provider errors on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// Router owns the active engine. All methods are safe for concurrent use.
// Initialize and Speak are serialised with each other; the accessors never
// wait for a probe or for playback.
type Router struct {
	httpEngine   tts.Engine
	localEngine  tts.Engine
	probeTimeout time.Duration
	metrics      *observe.Metrics

	opMu sync.Mutex

	mu     sync.Mutex
	state  State
	active tts.Engine
	voices []tts.Voice
}

// New returns a Router in [StateUnprobed]. Engines left unset are never
// probed.
func New(opts ...Option) *Router {
	r := &Router{probeTimeout: DefaultProbeTimeout}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Initialize probes the engines and activates the first that answers. With
// preferHTTP the order is HTTP then local; without it only the local engine
// is tried. The voice list of the chosen engine is cached. It returns false
// and [tts.KindNone] when no engine answered.
func (r *Router) Initialize(ctx context.Context, preferHTTP bool) (bool, tts.Kind) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	var candidates []tts.Engine
	if preferHTTP && r.httpEngine != nil {
		candidates = append(candidates, r.httpEngine)
	}
	if r.localEngine != nil {
		candidates = append(candidates, r.localEngine)
	}

	if len(candidates) == 0 {
		r.set(StateUnavailable, nil, nil)
		slog.Warn("synthesis: no engine configured")
		return false, tts.KindNone
	}

	// A fresh group per cycle so breaker state from an earlier probe never
	// reorders this one.
	group := resilience.NewFallbackGroup[tts.Engine](resilience.FallbackConfig{})
	for _, c := range candidates {
		group.Add(string(c.Kind()), c)
	}

	engine, _, err := resilience.First(ctx, group, func(ctx context.Context, e tts.Engine) (tts.Engine, error) {
		pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
		defer cancel()
		return e, e.Probe(pctx)
	})
	if err != nil {
		r.set(StateUnavailable, nil, nil)
		slog.Warn("synthesis: no engine available", "tried", group.Names(), "err", err)
		return false, tts.KindNone
	}

	state := StateLocalActive
	if engine.Kind() == tts.KindHTTP {
		state = StateHTTPActive
	}
	voices, err := engine.ListVoices(ctx)
	if err != nil {
		slog.Warn("synthesis: could not list voices", "engine", engine.Kind(), "err", err)
	}
	r.set(state, engine, voices)
	slog.Info("synthesis: engine selected", "engine", engine.Kind(), "voices", len(voices))
	return true, engine.Kind()
}

// Speak says text with the active engine. It returns false without calling
// any engine for blank text or when no engine is active. Engine failures
// are logged and also yield false.
func (r *Router) Speak(ctx context.Context, text string, voice tts.Voice, params tts.Params) bool {
	err := r.SpeakErr(ctx, text, voice, params)
	var se *SynthesisError
	if errors.As(err, &se) {
		observe.Logger(ctx).Warn("synthesis: speak failed", "engine", se.Kind, "err", se.Err)
	}
	return err == nil
}

// SpeakErr is Speak returning the reason for a false result:
// [ErrEmptyText], [ErrUnavailable] or a *[SynthesisError].
func (r *Router) SpeakErr(ctx context.Context, text string, voice tts.Voice, params tts.Params) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if active == nil {
		return ErrUnavailable
	}

	kind := active.Kind()
	start := time.Now()
	err := active.Speak(ctx, text, voice, params)
	if r.metrics != nil {
		observe.Since(ctx, r.metrics.TTSDuration, start)
		r.metrics.RecordProvider(ctx, string(kind), "tts", err)
	}
	if err != nil {
		return &SynthesisError{Kind: kind, Err: err}
	}
	return nil
}

// ListVoices returns the cached voices of the active engine. It is empty
// before Initialize and when no engine is available.
func (r *Router) ListVoices() []tts.Voice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tts.Voice(nil), r.voices...)
}

// ResolveVoice finds a cached voice by ID or by name. Names are compared
// case-insensitively, first exactly and then by Jaro-Winkler similarity;
// the best match scoring at least 0.85 wins.
func (r *Router) ResolveVoice(query string) (tts.Voice, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return tts.Voice{}, false
	}

	voices := r.ListVoices()
	for _, v := range voices {
		if v.ID == query || strings.ToLower(v.Name) == q {
			return v, true
		}
	}

	var (
		best      tts.Voice
		bestScore float64
	)
	for _, v := range voices {
		name := strings.ToLower(v.Name)
		score := matchr.JaroWinkler(q, name, false)
		// "四国めたん" should still find "四国めたん (ノーマル)".
		if base, _, ok := strings.Cut(name, " ("); ok {
			score = max(score, matchr.JaroWinkler(q, base, false))
		}
		if score > bestScore {
			best, bestScore = v, score
		}
	}
	if bestScore < minVoiceScore {
		return tts.Voice{}, false
	}
	return best, true
}

func (r *Router) set(state State, active tts.Engine, voices []tts.Voice) {
	r.mu.Lock()
	r.state, r.active, r.voices = state, active, voices
	r.mu.Unlock()
}

// State returns the current selection state.
func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Kind returns the kind of the active engine, or [tts.KindNone].
func (r *Router) Kind() tts.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return tts.KindNone
	}
	return r.active.Kind()
}
