// Package tts defines the Engine interface for speech synthesis backends.
//
// An Engine turns a complete piece of text into audible speech. Unlike a
// streaming synthesiser it owns playback too: Speak blocks until the audio
// has finished playing, so the caller knows the speaker is free again when
// it returns.
//
// Implementations must be safe for concurrent use, although the conversation
// loop only ever calls them from one goroutine.
package tts

import "context"

// Engine is the abstraction over one speech synthesis backend.
type Engine interface {
	// Kind reports the engine family.
	Kind() Kind

	// Probe is a lightweight liveness check. It must return quickly; callers
	// bound it with a short context deadline.
	Probe(ctx context.Context) error

	// Speak synthesises text with voice and params and plays it. It blocks
	// until playback has completed or failed.
	Speak(ctx context.Context, text string, voice Voice, params Params) error

	// ListVoices returns the engine's voice catalogue.
	ListVoices(ctx context.Context) ([]Voice, error)
}
