// Package audio defines the local sound device abstraction used by the
// conversation loop, plus PCM and WAV helpers shared by the providers.
//
// The primary abstraction is [Device]: a blocking, fixed-duration capture
// source and a blocking WAV file player. Concrete devices live in
// sub-packages (audio/portaudio for real hardware, audio/mock for tests).
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrNoAudio is returned by [Device.Capture] when the device delivered no
// samples at all.
var ErrNoAudio = errors.New("audio: capture returned no samples")

// Player plays a WAV file to completion.
type Player interface {
	// PlayFile plays the WAV file at path and blocks until playback has
	// finished or fails. Implementations should not abort a started
	// playback when ctx is cancelled.
	PlayFile(ctx context.Context, path string) error
}

// Device is a half-duplex local sound device.
//
// A Device is owned by a single conversation loop; implementations need not
// support concurrent Capture calls.
type Device interface {
	Player

	// Capture records mono 16-bit PCM at [SampleRate] for duration d and
	// returns once the full duration has been read. When level is non-nil
	// the device publishes the running peak amplitude into it so that a
	// progress display can observe it from another goroutine.
	Capture(ctx context.Context, d time.Duration, level *Level) (Buffer, error)

	// Close releases the device.
	Close() error
}
