// Package recognition owns the single resident transcription model.
//
// A [Session] holds at most one [stt.Model]. Reloads are ordered so that two
// models are only resident at the same time when the incoming one is the
// smaller of the two; for same-or-larger tiers the old model is released
// first. Only one load may be in flight.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

// DefaultSilenceRMS is the normalised RMS at or below which a capture is
// treated as silence and never sent to the model.
const DefaultSilenceRMS = 1e-4

// Session owns one loaded model. Load and Transcribe are meant to be driven
// from a single goroutine; Tier and Loaded may be called from any goroutine.
type Session struct {
	transcriber stt.Transcriber
	silenceRMS  float64

	loading atomic.Bool

	mu    sync.Mutex
	model stt.Model
	tier  stt.Tier
}

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithSilenceRMS sets the silence gate threshold. Negative values disable
// the gate entirely.
func WithSilenceRMS(v float64) Option {
	return func(s *Session) { s.silenceRMS = v }
}

// New returns an empty Session. Call Load or LoadWithFallback before
// Transcribe.
func New(tr stt.Transcriber, opts ...Option) *Session {
	s := &Session{transcriber: tr, silenceRMS: DefaultSilenceRMS}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load makes tier the resident model.
//
// When tier is smaller than the current model the new model is loaded
// first and the old one released afterwards, so a failed downgrade keeps
// the session usable. Otherwise the current model is released before the
// load; if that load fails the session is left empty.
func (s *Session) Load(ctx context.Context, tier stt.Tier) error {
	if !s.loading.CompareAndSwap(false, true) {
		return ErrLoadInProgress
	}
	defer s.loading.Store(false)

	s.mu.Lock()
	old, oldTier := s.model, s.tier
	s.mu.Unlock()

	if old != nil && tier < oldTier {
		m, err := s.transcriber.Load(ctx, tier)
		if err != nil {
			return &LoadError{Tier: tier, Err: err}
		}
		s.set(m, tier)
		s.release(old, oldTier)
		return nil
	}

	if old != nil {
		s.set(nil, 0)
		s.release(old, oldTier)
	}
	m, err := s.transcriber.Load(ctx, tier)
	if err != nil {
		return &LoadError{Tier: tier, Err: err}
	}
	s.set(m, tier)
	return nil
}

// LoadWithFallback loads tier and, on failure, steps down exactly one tier
// at a time until a load succeeds. It returns the tier that was loaded. If
// the tiny tier fails too the returned error wraps [ErrNoTierLoadable] and
// every attempt's [LoadError]. Cancelling ctx ends the cascade before the
// next attempt and returns ctx's error unwrapped.
func (s *Session) LoadWithFallback(ctx context.Context, tier stt.Tier) (stt.Tier, error) {
	var errs []error
	for t := tier; ; {
		if err := ctx.Err(); err != nil {
			return t, err
		}
		err := s.Load(ctx, t)
		if err == nil {
			if t != tier {
				slog.Warn("recognition: loaded smaller model after failure", "requested", tier, "loaded", t)
			}
			return t, nil
		}
		if errors.Is(err, ErrLoadInProgress) {
			return t, err
		}
		errs = append(errs, err)

		next, ok := t.Smaller()
		if !ok {
			return t, fmt.Errorf("%w: %w", ErrNoTierLoadable, errors.Join(errs...))
		}
		slog.Warn("recognition: model load failed, retrying one tier down", "tier", t, "next", next, "err", err)
		t = next
	}
}

// Transcribe returns the text in buf. A buffer whose RMS is at or below the
// silence threshold yields "" without calling the model. Model failures are
// returned as *[RecognitionError].
func (s *Session) Transcribe(ctx context.Context, buf audio.Buffer, language string) (string, error) {
	if s.silenceRMS >= 0 && buf.RMS() <= s.silenceRMS {
		return "", nil
	}

	s.mu.Lock()
	m, tier := s.model, s.tier
	s.mu.Unlock()
	if m == nil {
		return "", &RecognitionError{Tier: tier, Err: ErrNotLoaded}
	}

	text, err := m.Transcribe(ctx, buf, language)
	if err != nil {
		return "", &RecognitionError{Tier: tier, Err: err}
	}
	return strings.TrimSpace(text), nil
}

// Tier returns the resident tier. ok is false when nothing is loaded.
func (s *Session) Tier() (tier stt.Tier, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tier, s.model != nil
}

// Loaded reports whether a model is resident.
func (s *Session) Loaded() bool {
	_, ok := s.Tier()
	return ok
}

// Close releases the resident model.
func (s *Session) Close() error {
	s.mu.Lock()
	m := s.model
	s.model = nil
	s.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Close()
}

func (s *Session) set(m stt.Model, tier stt.Tier) {
	s.mu.Lock()
	s.model, s.tier = m, tier
	s.mu.Unlock()
}

func (s *Session) release(m stt.Model, tier stt.Tier) {
	if err := m.Close(); err != nil {
		slog.Warn("recognition: failed to release model", "tier", tier, "err", err)
	}
}
