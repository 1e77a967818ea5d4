package tts

import (
	"fmt"
	"strconv"
)

// Kind identifies the family of a synthesis engine.
type Kind string

const (
	// KindHTTP is a synthesis service reached over HTTP (VOICEVOX).
	KindHTTP Kind = "http"

	// KindLocal is a speech engine installed on the host OS (espeak-ng).
	KindLocal Kind = "local"

	// KindNone means no engine is active.
	KindNone Kind = "none"
)

// Voice describes one selectable voice of an engine.
type Voice struct {
	// ID is the engine-specific voice identifier. For VOICEVOX it is the
	// numeric style id, for espeak-ng the index into the voice table.
	ID string

	// Name is the human-readable voice name, e.g. "四国めたん (ノーマル)".
	Name string

	// Tags holds language codes or style names reported by the engine.
	Tags []string
}

// Index returns ID as an integer. ok is false when ID is not numeric.
func (v Voice) Index() (n int, ok bool) {
	n, err := strconv.Atoi(v.ID)
	return n, err == nil
}

// Params tunes a single utterance. Zero values mean "engine default" for the
// scale fields; Rate zero means normal speed.
type Params struct {
	// Speed multiplies speaking speed (HTTP engine, 1.0 = normal).
	Speed float64

	// Pitch shifts pitch (HTTP engine, 0.0 = normal).
	Pitch float64

	// Intonation scales intonation (HTTP engine, 1.0 = normal).
	Intonation float64

	// Rate is the local engine speed in the range [-10, 10].
	Rate int
}

// DefaultParams returns neutral speech parameters.
func DefaultParams() Params {
	return Params{Speed: 1.0, Pitch: 0.0, Intonation: 1.0}
}

// ClampRate limits r to [-10, 10].
func ClampRate(r int) int {
	return min(max(r, -10), 10)
}

// ParseError reports a response from an engine that did not have the
// expected shape.
type ParseError struct {
	// Engine names the engine, e.g. "voicevox".
	Engine string

	// What names the document that failed, e.g. "speakers".
	What string

	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse %s: %v", e.Engine, e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
