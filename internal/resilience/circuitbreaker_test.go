package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func failN(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(func() error { return errTest })
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "dialogue"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 1 {
		t.Errorf("halfOpenMax = %d, want 1", cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3, Now: newFakeClock().Now})

	failN(cb, 2)
	if cb.State() != StateClosed || cb.Failures() != 2 {
		t.Fatalf("state = %v failures = %d after 2 failures", cb.State(), cb.Failures())
	}
	failN(cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 3})

	failN(cb, 2)
	_ = cb.Execute(func() error { return nil })
	if cb.Failures() != 0 {
		t.Fatalf("Failures = %d, want 0 after success", cb.Failures())
	}
	failN(cb, 2)
	if cb.State() != StateClosed {
		t.Fatal("opened after 2 failures following a success")
	}
}

func TestCircuitBreaker_HalfOpenLifecycle(t *testing.T) {
	tests := []struct {
		name      string
		probeErr  error
		wantState State
	}{
		{name: "probe succeeds", probeErr: nil, wantState: StateClosed},
		{name: "probe fails", probeErr: errTest, wantState: StateOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newFakeClock()
			cb := NewCircuitBreaker(CircuitBreakerConfig{
				Name: "test", MaxFailures: 2, ResetTimeout: 30 * time.Second, Now: clk.Now,
			})
			failN(cb, 2)

			clk.Advance(29 * time.Second)
			if cb.State() != StateOpen {
				t.Fatalf("state = %v before reset timeout", cb.State())
			}
			clk.Advance(time.Second)
			if cb.State() != StateHalfOpen {
				t.Fatalf("state = %v, want half-open after reset timeout", cb.State())
			}

			err := cb.Execute(func() error { return tt.probeErr })
			if !errors.Is(err, tt.probeErr) {
				t.Fatalf("probe err = %v", err)
			}
			if cb.State() != tt.wantState {
				t.Fatalf("state = %v, want %v", cb.State(), tt.wantState)
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenBudget(t *testing.T) {
	clk := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name: "test", MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 1, Now: clk.Now,
	})
	failN(cb, 1)
	clk.Advance(time.Second)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- cb.Execute(func() error {
			close(inProbe)
			<-release
			return nil
		})
	}()
	<-inProbe

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: time.Hour})
	failN(cb, 2)
	if cb.State() != StateOpen {
		t.Fatal("expected open")
	}
	cb.Reset()
	if cb.State() != StateClosed || cb.Failures() != 0 {
		t.Fatalf("state = %v failures = %d after reset", cb.State(), cb.Failures())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestCircuitBreaker_CancellationIsNeutral(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 2, ResetTimeout: time.Hour})
	canceled := fmt.Errorf("completion: %w", context.Canceled)
	for range 5 {
		if err := cb.Execute(func() error { return canceled }); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want the call's own error", err)
		}
	}
	if cb.State() != StateClosed || cb.Failures() != 0 {
		t.Fatalf("state = %v failures = %d, want closed with no failures", cb.State(), cb.Failures())
	}
}

func TestCircuitBreaker_NeutralReleasesHalfOpenProbe(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test", MaxFailures: 1, ResetTimeout: time.Second, Now: clock.Now})
	failN(cb, 1)
	clock.Advance(2 * time.Second)

	_ = cb.Execute(func() error { return context.Canceled })
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe after a cancelled probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var got []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "dialogue",
		MaxFailures:  2,
		ResetTimeout: time.Second,
		Now:          clock.Now,
		OnStateChange: func(name string, from, to State) {
			got = append(got, name+":"+from.String()+"->"+to.String())
		},
	})

	failN(cb, 2)
	clock.Advance(2 * time.Second)
	_ = cb.Execute(func() error { return nil })
	cb.Reset() // already closed; no callback

	want := []string{
		"dialogue:closed->open",
		"dialogue:open->half-open",
		"dialogue:half-open->closed",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}
