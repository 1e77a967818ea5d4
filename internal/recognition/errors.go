package recognition

import (
	"errors"
	"fmt"

	"github.com/MrWong99/pivoice/pkg/provider/stt"
)

var (
	// ErrLoadInProgress is returned when Load is called while another load
	// has not finished.
	ErrLoadInProgress = errors.New("recognition: a model load is already in progress")

	// ErrNotLoaded is returned by Transcribe before any model was loaded.
	ErrNotLoaded = errors.New("recognition: no model loaded")

	// ErrNoTierLoadable is wrapped by the error LoadWithFallback returns
	// after the tiny tier also failed. It is fatal to the caller.
	ErrNoTierLoadable = errors.New("recognition: no model tier could be loaded")
)

// LoadError reports a failed load of one tier.
type LoadError struct {
	Tier stt.Tier
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("recognition: load %s model: %v", e.Tier, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RecognitionError reports a failed transcription. It aborts the current
// turn but never the process.
type RecognitionError struct {
	Tier stt.Tier
	Err  error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognition: transcribe with %s model: %v", e.Tier, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }
