package resilience

import (
	"context"
	"time"

	"github.com/subcog/subcog/internal/errs"
)

// TimeoutRunner bounds how long a single call is allowed to run,
// independent of any concurrency limiting a Bulkhead applies.
type TimeoutRunner struct {
	name    string
	timeout time.Duration
}

// NewTimeoutRunner constructs a TimeoutRunner with the given budget. name
// identifies the protected operation in error messages.
func NewTimeoutRunner(name string, timeout time.Duration) *TimeoutRunner {
	return &TimeoutRunner{name: name, timeout: timeout}
}

// Run executes fn, cancelling its context and returning an
// *errs.Error{Kind: Timeout} if it doesn't finish within the configured
// budget. fn must respect ctx cancellation for the caller to actually stop
// promptly; Run itself always returns at (or slightly after) the deadline
// regardless, since stdlib goroutines cannot be forcibly killed.
func (r *TimeoutRunner) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.timeout <= 0 {
		return fn(ctx)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(runCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-runCtx.Done():
		return errs.New(errs.Timeout, "resilience.timeout."+r.name, runCtx.Err())
	}
}
