// Package poll provides a reusable fixed-interval polling loop with an
// optional deadline. Remote report generation can take anywhere from
// seconds to tens of minutes, so every polling site in the codebase goes
// through Until rather than hand-rolling sleep/retry counters.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrDeadline is returned when the configured maximum wait elapses before
// the check function reaches a terminal state.
var ErrDeadline = errors.New("poll: deadline exceeded")

// Decision tells Until how to proceed after a check.
type Decision int

const (
	// Continue keeps polling on the next tick.
	Continue Decision = iota
	// Done stops polling successfully.
	Done
)

// CheckFunc inspects the polled resource once. Returning Done stops the
// loop; returning a non-nil error aborts it immediately; returning
// Continue waits one interval and checks again.
type CheckFunc func(ctx context.Context) (Decision, error)

// Until polls check every interval until it reports Done, returns an
// error, the context is canceled, or maxWait elapses. A maxWait of zero
// means no deadline: the loop runs until check or the context ends it.
// The first check happens immediately, not after the first interval.
func Until(ctx context.Context, interval, maxWait time.Duration, check CheckFunc) error {
	if maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		decision, err := check(ctx)
		if err != nil {
			return err
		}
		if decision == Done {
			return nil
		}

		select {
		case <-ctx.Done():
			if maxWait > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrDeadline
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
