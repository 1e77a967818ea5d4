package audio_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/pivoice/pkg/audio"
)

func TestEncodeParseWAV(t *testing.T) {
	pcm := audio.Int16ToPCM([]int16{1, -1, 300, -300})
	w, err := audio.ParseWAV(audio.EncodeWAV(pcm, 24000, 1))
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if w.SampleRate != 24000 || w.Channels != 1 || w.BitsPerSample != 16 {
		t.Errorf("format = %d Hz / %d ch / %d bit, want 24000/1/16", w.SampleRate, w.Channels, w.BitsPerSample)
	}
	if !bytes.Equal(w.Data, pcm) {
		t.Errorf("data = %v, want %v", w.Data, pcm)
	}
}

func TestParseWAV_SkipsUnknownChunks(t *testing.T) {
	wav := audio.EncodeWAV([]byte{1, 2, 3, 4}, 16000, 1)

	// Insert an odd-sized LIST chunk between fmt and data.
	list := []byte("LIST")
	list = binary.LittleEndian.AppendUint32(list, 3)
	list = append(list, 'a', 'b', 'c', 0)
	patched := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	w, err := audio.ParseWAV(patched)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if !bytes.Equal(w.Data, []byte{1, 2, 3, 4}) {
		t.Errorf("data = %v, want [1 2 3 4]", w.Data)
	}
}

func TestParseWAV_Errors(t *testing.T) {
	valid := audio.EncodeWAV([]byte{0, 0}, 16000, 1)

	float := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(float[20:22], 3)

	eightBit := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(eightBit[34:36], 8)

	tests := []struct {
		name    string
		data    []byte
		wantErr string
	}{
		{name: "too short", data: []byte("RIFF"), wantErr: "too short"},
		{name: "no riff", data: append([]byte("JUNK"), valid[4:]...), wantErr: "RIFF"},
		{name: "no wave", data: append(append([]byte{}, valid[:8]...), append([]byte("AVI "), valid[12:]...)...), wantErr: "WAVE"},
		{name: "no data chunk", data: valid[:36], wantErr: "missing data"},
		{name: "float format", data: float, wantErr: "format tag"},
		{name: "8 bit", data: eightBit, wantErr: "bit depth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := audio.ParseWAV(tt.data)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestReadWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(path, audio.EncodeWAV([]byte{5, 0}, 22050, 2), 0o600); err != nil {
		t.Fatal(err)
	}
	w, err := audio.ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile: %v", err)
	}
	if w.SampleRate != 22050 || w.Channels != 2 {
		t.Errorf("format = %d/%d, want 22050/2", w.SampleRate, w.Channels)
	}

	if _, err := audio.ReadWAVFile(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLevel(t *testing.T) {
	var l audio.Level
	l.Observe(audio.Int16ToPCM([]int16{10, -2000, 30}))
	l.Observe(audio.Int16ToPCM([]int16{100}))
	if got := l.Peak(); got != 2000 {
		t.Errorf("Peak = %d, want 2000", got)
	}

	l.Observe(audio.Int16ToPCM([]int16{-32768}))
	if got := l.Fraction(); got != 1 {
		t.Errorf("Fraction = %v, want 1", got)
	}

	l.Reset()
	if got := l.Peak(); got != 0 {
		t.Errorf("Peak after Reset = %d, want 0", got)
	}
}

func TestLevel_Concurrent(t *testing.T) {
	var l audio.Level
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Observe(audio.Int16ToPCM([]int16{int16(i * 100)}))
		}()
	}
	wg.Wait()
	if got := l.Peak(); got != 700 {
		t.Errorf("Peak = %d, want 700", got)
	}
}
