// Package portaudio implements [audio.Device] on top of the PortAudio C
// library via github.com/gordonklaus/portaudio. It uses the host's default
// input and output devices.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/pivoice/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// Device captures from the default input and plays to the default output.
// Streams are opened per call so the sound card is released between turns.
type Device struct {
	captureRate     int
	captureChannels int
	outputChannels  int

	closeOnce sync.Once
}

// Option is a functional option for configuring a Device.
type Option func(*Device)

// WithCaptureRate sets the rate the input stream is opened at. Capture
// resamples to [audio.SampleRate] when this differs. Use it for cards that
// reject 16 kHz. Defaults to [audio.SampleRate].
func WithCaptureRate(rate int) Option {
	return func(d *Device) {
		if rate > 0 {
			d.captureRate = rate
		}
	}
}

// WithCaptureChannels sets the input channel count (1 or 2). Stereo input is
// down-mixed to mono. Defaults to 1.
func WithCaptureChannels(n int) Option {
	return func(d *Device) {
		if n == 1 || n == 2 {
			d.captureChannels = n
		}
	}
}

// WithOutputChannels forces the output stream channel count. Mono files are
// duplicated to both channels when set to 2. Zero (the default) opens the
// output with the file's own channel count.
func WithOutputChannels(n int) Option {
	return func(d *Device) {
		if n == 1 || n == 2 {
			d.outputChannels = n
		}
	}
}

// New initialises PortAudio and returns a Device. Call Close to terminate
// the library.
func New(opts ...Option) (*Device, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	d := &Device{
		captureRate:     audio.SampleRate,
		captureChannels: 1,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Capture records for duration d. The read loop is not interruptible: ctx is
// not consulted once the stream is started, which keeps the captured buffer
// whole.
func (d *Device) Capture(_ context.Context, dur time.Duration, level *audio.Level) (audio.Buffer, error) {
	if dur <= 0 {
		return audio.Buffer{}, fmt.Errorf("portaudio: capture duration must be positive, got %v", dur)
	}

	in := make([]int16, audio.FramesPerBuffer*d.captureChannels)
	stream, err := pa.OpenDefaultStream(d.captureChannels, 0, float64(d.captureRate), audio.FramesPerBuffer, in)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("portaudio: open input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return audio.Buffer{}, fmt.Errorf("portaudio: start input stream: %w", err)
	}
	defer stream.Stop()

	total := int(dur.Seconds() * float64(d.captureRate))
	pcm := make([]byte, 0, total*d.captureChannels*2)
	for read := 0; read < total; read += audio.FramesPerBuffer {
		if err := stream.Read(); err != nil && !errors.Is(err, pa.InputOverflowed) {
			return audio.Buffer{}, fmt.Errorf("portaudio: read input: %w", err)
		}
		n := min(audio.FramesPerBuffer, total-read)
		chunk := audio.Int16ToPCM(in[:n*d.captureChannels])
		if level != nil {
			level.Observe(chunk)
		}
		pcm = append(pcm, chunk...)
	}

	buf := audio.ToCaptureFormat(pcm, d.captureRate, d.captureChannels)
	if buf.Empty() {
		return audio.Buffer{}, audio.ErrNoAudio
	}
	return buf, nil
}

// PlayFile plays a 16-bit PCM WAV file and returns when the last buffer has
// been written to the output stream.
func (d *Device) PlayFile(_ context.Context, path string) error {
	w, err := audio.ReadWAVFile(path)
	if err != nil {
		return fmt.Errorf("portaudio: %w", err)
	}

	data := w.Data
	channels := w.Channels
	switch {
	case d.outputChannels == 2 && channels == 1:
		data = audio.MonoToStereo(data)
		channels = 2
	case d.outputChannels == 1 && channels == 2:
		data = audio.StereoToMono(data)
		channels = 1
	}
	samples := audio.PCMToInt16(data)

	out := make([]int16, audio.FramesPerBuffer*channels)
	stream, err := pa.OpenDefaultStream(0, channels, float64(w.SampleRate), audio.FramesPerBuffer, out)
	if err != nil {
		return fmt.Errorf("portaudio: open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}
	defer stream.Stop()

	for off := 0; off < len(samples); off += len(out) {
		n := copy(out, samples[off:])
		clear(out[n:])
		if err := stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write output: %w", err)
		}
	}
	return nil
}

// Close terminates PortAudio. Calling Close more than once is safe.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		err = pa.Terminate()
	})
	return err
}
