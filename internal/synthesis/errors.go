package synthesis

import (
	"errors"
	"fmt"

	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

var (
	// ErrUnavailable is returned by SpeakErr when no engine is active.
	ErrUnavailable = errors.New("synthesis: no engine available")

	// ErrEmptyText is returned by SpeakErr for blank text.
	ErrEmptyText = errors.New("synthesis: nothing to say")
)

// SynthesisError reports a failure of the active engine during one Speak.
// The reply text has already been shown by then, so the turn still counts
// as delivered.
type SynthesisError struct {
	Kind tts.Kind
	Err  error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis: %s engine: %v", e.Kind, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
