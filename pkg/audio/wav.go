package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// WAV is a decoded RIFF/WAVE PCM payload.
type WAV struct {
	SampleRate    int
	Channels      int
	BitsPerSample int

	// Data holds the raw sample bytes of the data chunk.
	Data []byte
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// RIFF/WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	bps := BitsPerSample
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bps))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// ParseWAV walks the RIFF chunks of wav and returns the format and the data
// chunk. Only 16-bit PCM is accepted.
func ParseWAV(wav []byte) (WAV, error) {
	if len(wav) < 12 {
		return WAV{}, errors.New("audio: WAV too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return WAV{}, errors.New("audio: WAV missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return WAV{}, errors.New("audio: WAV missing WAVE identifier")
	}

	var w WAV
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return WAV{}, errors.New("audio: WAV fmt chunk truncated")
			}
			fmtData := wav[offset+8:]
			if format := binary.LittleEndian.Uint16(fmtData[0:2]); format != 1 {
				return WAV{}, fmt.Errorf("audio: unsupported WAV format tag %d", format)
			}
			w.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			w.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			w.BitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAV{}, errors.New("audio: WAV data chunk before fmt chunk")
			}
			if w.BitsPerSample != BitsPerSample {
				return WAV{}, fmt.Errorf("audio: unsupported WAV bit depth %d", w.BitsPerSample)
			}
			end := min(offset+8+chunkSize, len(wav))
			w.Data = wav[offset+8 : end]
			return w, nil
		}

		// Chunks are word-aligned: pad by 1 if odd size.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return WAV{}, errors.New("audio: WAV missing data chunk")
}

// ReadWAVFile reads and parses the WAV file at path.
func ReadWAVFile(path string) (WAV, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WAV{}, fmt.Errorf("audio: read %q: %w", path, err)
	}
	w, err := ParseWAV(data)
	if err != nil {
		return WAV{}, fmt.Errorf("audio: parse %q: %w", path, err)
	}
	return w, nil
}
