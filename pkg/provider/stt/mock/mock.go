// Package mock provides test doubles for the stt package interfaces.
//
// Use Transcriber to control which tiers load successfully and to inspect
// the load order. Each successful Load returns a *Model whose transcription
// result is taken from the Transcriber.
//
// Example:
//
//	tr := &mock.Transcriber{
//	    LoadErrs: map[stt.Tier]error{stt.TierSmall: errors.New("oom")},
//	    Text:     "hello",
//	}
//	m, err := tr.Load(ctx, stt.TierBase)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

// Event is one entry in the Transcriber's ordered event log.
type Event struct {
	// Op is "load" or "close".
	Op   string
	Tier stt.Tier
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// LoadErrs maps tiers to the error Load returns for them.
	LoadErrs map[stt.Tier]error

	// Text is returned by every loaded model's Transcribe.
	Text string

	// TranscribeErr, if non-nil, is returned by every loaded model's Transcribe.
	TranscribeErr error

	// LoadCalls records the tier of every Load call, in order.
	LoadCalls []stt.Tier

	// Events records loads and closes in the order they happened.
	Events []Event

	// TranscribeCalls records every buffer passed to a loaded model.
	TranscribeCalls []audio.Buffer

	// Languages records the language of every Transcribe call.
	Languages []string

	// BeforeLoad, if set, runs at the start of Load outside the lock.
	BeforeLoad func(stt.Tier)
}

// Load records the call and returns a *Model or LoadErrs[tier].
func (t *Transcriber) Load(_ context.Context, tier stt.Tier) (stt.Model, error) {
	if t.BeforeLoad != nil {
		t.BeforeLoad(tier)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.LoadCalls = append(t.LoadCalls, tier)
	if err := t.LoadErrs[tier]; err != nil {
		return nil, err
	}
	t.Events = append(t.Events, Event{Op: "load", Tier: tier})
	return &Model{parent: t, Tier: tier}, nil
}

// Loads returns a copy of LoadCalls. Thread-safe.
func (t *Transcriber) Loads() []stt.Tier {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]stt.Tier(nil), t.LoadCalls...)
}

// Log returns a copy of Events. Thread-safe.
func (t *Transcriber) Log() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.Events...)
}

// TranscribeCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) TranscribeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.TranscribeCalls)
}

// Model is the mock stt.Model returned by Transcriber.Load.
type Model struct {
	parent *Transcriber

	// Tier is the tier this model was loaded as.
	Tier stt.Tier

	// Closed counts Close calls.
	Closed int
}

// Transcribe records the call and returns the parent's Text or TranscribeErr.
func (m *Model) Transcribe(_ context.Context, buf audio.Buffer, language string) (string, error) {
	t := m.parent
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscribeCalls = append(t.TranscribeCalls, buf)
	t.Languages = append(t.Languages, language)
	if t.TranscribeErr != nil {
		return "", t.TranscribeErr
	}
	return t.Text, nil
}

// Close records a "close" event the first time it is called.
func (m *Model) Close() error {
	t := m.parent
	t.mu.Lock()
	defer t.mu.Unlock()
	m.Closed++
	if m.Closed == 1 {
		t.Events = append(t.Events, Event{Op: "close", Tier: m.Tier})
	}
	return nil
}

var (
	_ stt.Transcriber = (*Transcriber)(nil)
	_ stt.Model       = (*Model)(nil)
)
