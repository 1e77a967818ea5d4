package dialogue

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned by Complete for blank user text. The provider
// is not called.
var ErrEmptyInput = errors.New("dialogue: empty user text")

// DialogueError reports a failed completion. It aborts the reply of the
// current turn but never the process.
type DialogueError struct {
	// Provider names the backend that was asked, e.g. "gemini".
	Provider string
	Err      error
}

func (e *DialogueError) Error() string {
	return fmt.Sprintf("dialogue: %s completion: %v", e.Provider, e.Err)
}

func (e *DialogueError) Unwrap() error { return e.Err }
