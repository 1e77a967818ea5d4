package audio

import (
	"encoding/binary"
	"sync/atomic"
)

// Level is a lock-free peak amplitude counter. A capturing device writes to
// it and a display goroutine reads it; it is the only state they share.
// The zero value is ready to use.
type Level struct {
	peak atomic.Int32
}

// Observe raises the stored peak to the largest absolute sample in pcm.
func (l *Level) Observe(pcm []byte) {
	var peak int32
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if v < 0 {
			v = -v
		}
		peak = max(peak, v)
	}
	for {
		cur := l.peak.Load()
		if peak <= cur || l.peak.CompareAndSwap(cur, peak) {
			return
		}
	}
}

// Peak returns the highest absolute amplitude seen so far (0–32768).
func (l *Level) Peak() int32 { return l.peak.Load() }

// Fraction returns [Level.Peak] as a fraction of full scale.
func (l *Level) Fraction() float64 { return float64(l.Peak()) / 32768.0 }

// Reset sets the peak back to zero.
func (l *Level) Reset() { l.peak.Store(0) }
