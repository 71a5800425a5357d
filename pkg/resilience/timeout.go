package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
)

// WithTimeout runs fn under a derived deadline. A deadline hit is reported as
// ErrTimeout; cancellation of the parent is passed through unchanged. fn is
// expected to honour its context, and WithTimeout waits for it to return.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(tctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, timeout, err)
	}
	return err
}
