package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has
// an open circuit breaker.
var ErrAllFailed = errors.New("all entries failed")

// FallbackConfig configures the per-entry circuit breaker of a
// [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// FallbackGroup is an ordered list of named values of one type, such as
// the speech engines in preference order. Entries are tried in the order
// they were added, so the same outcomes always select the same entry.
type FallbackGroup[T any] struct {
	names    []string
	values   []T
	breakers []*CircuitBreaker
	cfg      FallbackConfig
}

// NewFallbackGroup creates an empty group. Add entries with [FallbackGroup.Add].
func NewFallbackGroup[T any](cfg FallbackConfig) *FallbackGroup[T] {
	return &FallbackGroup[T]{cfg: cfg}
}

// Add appends an entry and returns the group for chaining.
func (fg *FallbackGroup[T]) Add(name string, v T) *FallbackGroup[T] {
	cb := fg.cfg.CircuitBreaker
	cb.Name = name
	fg.names = append(fg.names, name)
	fg.values = append(fg.values, v)
	fg.breakers = append(fg.breakers, NewCircuitBreaker(cb))
	return fg
}

// Len returns the number of entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.values) }

// Names returns the entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	return append([]string(nil), fg.names...)
}

// Execute tries fn against each entry until one succeeds. See [First].
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(context.Context, T) error) error {
	_, _, err := First(ctx, fg, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// First runs fn against each entry in order and returns the first result
// together with the name of the entry that produced it. Entries with an
// open breaker are skipped. Cancelling ctx stops the cascade before the
// next entry and returns ctx's error. When every entry fails the error
// wraps [ErrAllFailed] and each entry's error.
func First[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero R
		errs []error
	)
	for i, v := range fg.values {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		name := fg.names[i]
		var res R
		err := fg.breakers[i].Execute(func() error {
			var err error
			res, err = fn(ctx, v)
			return err
		})
		if err == nil {
			return res, name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("fallback: skipping entry with open circuit", "entry", name)
		} else {
			slog.Warn("fallback: entry failed, trying next", "entry", name, "err", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
