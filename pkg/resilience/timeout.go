package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/conceptrank/conceptrank/pkg/errors"
)

// WithTimeout runs fn under a deadline of timeout and returns as soon as
// either fn finishes or the deadline passes. An expired deadline yields an
// error matching apperrors.ErrTimeout and context.DeadlineExceeded; the
// same error is the context's cause as seen by fn. A non-positive timeout
// calls fn directly.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	expired := fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, timeout, context.DeadlineExceeded)
	callCtx, cancel := context.WithTimeoutCause(ctx, timeout, expired)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- fn(callCtx) }()

	select {
	case err := <-result:
		if err == nil || callCtx.Err() == nil {
			return err
		}
	case <-callCtx.Done():
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: caller gave up: %w", name, err)
	}
	return context.Cause(callCtx)
}
