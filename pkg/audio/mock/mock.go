// Package mock provides an in-memory [audio.Device] for use in unit tests.
//
// Device is safe for concurrent use. It records every method call so tests
// can assert on call counts and arguments, and it exposes exported fields that
// control return values.
//
// Typical usage:
//
//	dev := &mock.Device{
//	    CaptureResult: audio.Buffer{PCM: make([]byte, 32000)},
//	}
//	buf, err := dev.Capture(ctx, time.Second, nil)
package mock

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/pivoice/pkg/audio"
)

// CaptureCall records a single invocation of [Device.Capture].
type CaptureCall struct {
	Duration time.Duration
	Level    *audio.Level
}

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// CaptureResult is returned by Capture when CaptureErr is nil.
	CaptureResult audio.Buffer

	// CaptureErr, if non-nil, is returned by Capture.
	CaptureErr error

	// PlayErr, if non-nil, is returned by PlayFile.
	PlayErr error

	// CloseErr is returned by Close.
	CloseErr error

	// CaptureCalls records every Capture invocation.
	CaptureCalls []CaptureCall

	// PlayedFiles records the path of every PlayFile invocation.
	PlayedFiles []string

	// PlayedData records the bytes of every played file, read at call time
	// because callers usually delete the file right after playback.
	PlayedData [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Capture records the call, publishes the result's peak into level and
// returns CaptureResult, CaptureErr.
func (d *Device) Capture(_ context.Context, dur time.Duration, level *audio.Level) (audio.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CaptureCalls = append(d.CaptureCalls, CaptureCall{Duration: dur, Level: level})
	if d.CaptureErr != nil {
		return audio.Buffer{}, d.CaptureErr
	}
	if level != nil {
		level.Observe(d.CaptureResult.PCM)
	}
	return d.CaptureResult, nil
}

// PlayFile records the path and file contents and returns PlayErr.
func (d *Device) PlayFile(_ context.Context, path string) error {
	data, _ := os.ReadFile(path)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PlayedFiles = append(d.PlayedFiles, path)
	d.PlayedData = append(d.PlayedData, data)
	return d.PlayErr
}

// Close records the call and returns CloseErr.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	return d.CloseErr
}

// CaptureCount returns the number of Capture calls. Thread-safe.
func (d *Device) CaptureCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.CaptureCalls)
}

// PlayCount returns the number of PlayFile calls. Thread-safe.
func (d *Device) PlayCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.PlayedFiles)
}

var _ audio.Device = (*Device)(nil)
