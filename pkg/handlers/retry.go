package handlers

import (
	"context"
	"errors"
	"time"

	"go.uber.org/multierr"
)

const defaultAttempts = 3

// backoff returns exponential backoff delay: 1s, 2s, 4s, 8s, 16s, 30s max.
func backoff(failures int) time.Duration {
	d := time.Duration(1<<uint(failures-1)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// Retrier repeats a directory action with exponential backoff.
type Retrier struct {
	// Attempts is the total number of tries. Zero means 3.
	Attempts int
	// Wait pauses between attempts. Nil sleeps on a timer.
	Wait func(ctx context.Context, d time.Duration) error
}

// Do calls fn until it succeeds, the attempts run out, ctx ends or fn
// returns an error that reports itself as not temporary. The errors of all
// attempts are combined.
func (r Retrier) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	wait := r.Wait
	if wait == nil {
		wait = sleep
	}

	var errs error
	for i := 1; ; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		errs = multierr.Append(errs, err)
		if i >= attempts || !temporary(err) {
			return errs
		}
		if werr := wait(ctx, backoff(i)); werr != nil {
			return multierr.Append(errs, werr)
		}
	}
}

func temporary(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
