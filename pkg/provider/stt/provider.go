// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber turns a model [Tier] into a loaded [Model]; a Model turns one
// complete captured utterance into text. Recognition is batch, not streaming:
// each call receives a whole fixed-duration capture.
//
// Loading is separated from transcription so that the caller can control
// exactly when a model is resident in memory and release it before loading
// another one.
package stt

import (
	"context"

	"github.com/MrWong99/pivoice/pkg/audio"
)

// Model is a loaded transcription model of a single tier.
//
// A Model is owned by one caller and need not be safe for concurrent use.
type Model interface {
	// Transcribe returns the text spoken in buf. language is an ISO 639-1
	// code such as "ja" or "en"; empty lets the model auto-detect.
	// Silence is not an error: it yields an empty string.
	Transcribe(ctx context.Context, buf audio.Buffer, language string) (string, error)

	// Close releases the model's memory. Calling Close more than once is safe.
	Close() error
}

// Transcriber is the abstraction over any recognition backend.
type Transcriber interface {
	// Load makes a model of the given tier resident and returns it. The
	// caller owns the returned Model and must Close it.
	Load(ctx context.Context, tier Tier) (Model, error)
}
