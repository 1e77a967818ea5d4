package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

// Trigger blocks until the user asks for the next turn.
type Trigger interface {
	// Wait returns nil when a turn should start, io.EOF when no more turns
	// will ever be requested, or ctx.Err() when ctx is done first.
	Wait(ctx context.Context) error
}

// LineTrigger starts a turn for every line read from an [io.Reader],
// normally os.Stdin.
//
// The reader goroutine is started on the first Wait. A blocked read on a
// terminal cannot be interrupted, so the goroutine may outlive the last
// Wait; it exits at EOF.
type LineTrigger struct {
	r      io.Reader
	prompt io.Writer
	text   string

	once  sync.Once
	lines chan struct{}
	err   error // set before lines is closed
}

// DefaultPrompt is printed before every wait.
const DefaultPrompt = "Enter を押すと録音開始: "

// NewLineTrigger returns a trigger reading r. When prompt is non-nil
// [DefaultPrompt] is written to it before each wait.
func NewLineTrigger(r io.Reader, prompt io.Writer) *LineTrigger {
	return &LineTrigger{r: r, prompt: prompt, text: DefaultPrompt, lines: make(chan struct{})}
}

// Wait implements [Trigger].
func (t *LineTrigger) Wait(ctx context.Context) error {
	t.once.Do(func() { go t.read() })
	if t.prompt != nil {
		fmt.Fprint(t.prompt, t.text)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-t.lines:
		if !ok {
			return t.err
		}
		return nil
	}
}

func (t *LineTrigger) read() {
	sc := bufio.NewScanner(t.r)
	for sc.Scan() {
		t.lines <- struct{}{}
	}
	t.err = sc.Err()
	if t.err == nil {
		t.err = io.EOF
	}
	close(t.lines)
}
