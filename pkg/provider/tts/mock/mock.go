// Package mock provides a test double for the tts.Engine interface.
//
// Engine records every call so tests can assert on what reached the backend,
// and exposes fields that control return values.
//
// Example:
//
//	e := &mock.Engine{
//	    EngineKind:       tts.KindHTTP,
//	    ListVoicesResult: []tts.Voice{{ID: "1", Name: "ずんだもん"}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

// SpeakCall records a single invocation of Speak.
type SpeakCall struct {
	Text   string
	Voice  tts.Voice
	Params tts.Params
}

// Engine is a mock implementation of tts.Engine.
type Engine struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// EngineKind is returned by Kind. Defaults to tts.KindNone when empty.
	EngineKind tts.Kind

	// ProbeErr, if non-nil, is returned by Probe.
	ProbeErr error

	// ProbeBlock makes Probe wait for ctx to be done and return ctx.Err(),
	// simulating a server that never answers.
	ProbeBlock bool

	// SpeakErr, if non-nil, is returned by Speak.
	SpeakErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.Voice

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// --- Call records ---

	// ProbeCalls counts Probe invocations.
	ProbeCalls int

	// SpeakCalls records every Speak invocation in order.
	SpeakCalls []SpeakCall

	// ListVoicesCalls counts ListVoices invocations.
	ListVoicesCalls int
}

// Kind implements tts.Engine.
func (e *Engine) Kind() tts.Kind {
	if e.EngineKind == "" {
		return tts.KindNone
	}
	return e.EngineKind
}

// Probe implements tts.Engine.
func (e *Engine) Probe(ctx context.Context) error {
	e.mu.Lock()
	e.ProbeCalls++
	block, err := e.ProbeBlock, e.ProbeErr
	e.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// Speak implements tts.Engine.
func (e *Engine) Speak(_ context.Context, text string, voice tts.Voice, params tts.Params) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.SpeakCalls = append(e.SpeakCalls, SpeakCall{Text: text, Voice: voice, Params: params})
	return e.SpeakErr
}

// ListVoices implements tts.Engine.
func (e *Engine) ListVoices(_ context.Context) ([]tts.Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ListVoicesCalls++
	if e.ListVoicesErr != nil {
		return nil, e.ListVoicesErr
	}
	return e.ListVoicesResult, nil
}

// Calls returns the total number of Probe, Speak and ListVoices calls.
// Thread-safe.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ProbeCalls + len(e.SpeakCalls) + e.ListVoicesCalls
}

// SpeakCount returns the number of Speak calls. Thread-safe.
func (e *Engine) SpeakCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.SpeakCalls)
}

// ProbeCount returns the number of Probe calls. Thread-safe.
func (e *Engine) ProbeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ProbeCalls
}

var _ tts.Engine = (*Engine)(nil)
