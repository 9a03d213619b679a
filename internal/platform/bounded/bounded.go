// Package bounded runs store operations under a hard time bound.
//
// The bound holds even when the operation ignores its context: the caller gets control back at
// the deadline and the late result is discarded.
package bounded

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Matteomic94/ElementMedica-sub000/internal/metrics"
)

type result[T any] struct {
	val T
	err error
}

// Call runs fn with a context limited to d. On timeout it returns an error wrapping
// context.DeadlineExceeded and tagged with op.
func Call[T any](ctx context.Context, op string, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result[T]{err: fmt.Errorf("%s: panic: %v", op, r)}
			}
		}()
		v, err := fn(cctx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			metrics.IncTimeout(op)
			return zero, fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
		}
		return r.val, r.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		metrics.IncTimeout(op)
		return zero, fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
	}
}

// Run is Call for operations without a result.
func Run(ctx context.Context, op string, d time.Duration, fn func(context.Context) error) error {
	_, err := Call(ctx, op, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Fire starts fn detached from the caller's cancellation but still bounded by d. Failures are
// logged and never reach the caller.
func Fire(ctx context.Context, log zerolog.Logger, op string, d time.Duration, fn func(context.Context) error) {
	detached := context.WithoutCancel(ctx)
	go func() {
		if err := Run(detached, op, d, fn); err != nil {
			log.Warn().Err(err).Str("op", op).Msg("background operation failed")
		}
	}()
}
