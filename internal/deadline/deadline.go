// Package deadline bounds calls to external dependencies. A call that
// outlives its deadline is abandoned and reported as a store fault.
package deadline

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/dragonbane-auth/internal/models"
)

// Call runs fn with a deadline and stops waiting once it passes,
// even if fn ignores its context. A panic in fn is returned as a store fault.
func Call[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				var zero T
				done <- result{zero, models.NewStoreError(models.StoreInternal, op, fmt.Errorf("panic: %v", p))}
			}
		}()
		val, err := fn(ctx)
		done <- result{val, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		code := models.StoreTimeout
		if ctx.Err() == context.Canceled {
			code = models.StoreUnavailable
		}
		return zero, models.NewStoreError(code, op, ctx.Err())
	}
}

// Exec is Call for calls that only return an error.
func Exec(ctx context.Context, timeout time.Duration, op string, fn func(context.Context) error) error {
	_, err := Call(ctx, timeout, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
