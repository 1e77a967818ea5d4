package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// SampleRate is the capture rate expected by the recognition models.
	SampleRate = 16000

	// BitsPerSample is fixed at 16 for signed little-endian PCM.
	BitsPerSample = 16

	// FramesPerBuffer is the number of frames read from the device per call.
	FramesPerBuffer = 1024
)

// Buffer is a contiguous block of 16-bit signed little-endian mono PCM.
type Buffer struct {
	// PCM holds the raw sample bytes (two bytes per sample).
	PCM []byte

	// SampleRate in Hz. Zero means [SampleRate].
	SampleRate int
}

// Rate returns the buffer's sample rate, falling back to [SampleRate].
func (b Buffer) Rate() int {
	if b.SampleRate <= 0 {
		return SampleRate
	}
	return b.SampleRate
}

// Samples returns the number of complete 16-bit samples in the buffer.
func (b Buffer) Samples() int { return len(b.PCM) / 2 }

// Empty reports whether the buffer holds no complete sample.
func (b Buffer) Empty() bool { return b.Samples() == 0 }

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	return time.Duration(b.Samples()) * time.Second / time.Duration(b.Rate())
}

// Float32 returns the samples normalised to [-1.0, 1.0].
func (b Buffer) Float32() []float32 {
	return PCMToFloat32(b.PCM)
}

// RMS returns the root-mean-square energy of the buffer normalised to full
// scale, so 0 is digital silence and 1 is a full-scale square wave.
func (b Buffer) RMS() float64 {
	n := b.Samples()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(b.PCM[i*2:]))) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
