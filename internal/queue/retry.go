package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// ErrRetriesExhausted is returned when a publish still fails after the
// configured number of attempts.
var ErrRetriesExhausted = errors.New("queue: retries exhausted")

// Default retry settings.
const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = time.Minute
	DefaultMaxAttempts    = 10
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retrier runs an operation until it succeeds, doubling the pause between
// attempts from Initial up to Max. MaxAttempts of zero retries until ctx is
// done.
type Retrier struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
	Logger      *slog.Logger

	// Sleep pauses between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier returns a Retrier with the given bounds. Zero durations fall
// back to the package defaults.
func NewRetrier(initial, maxDelay time.Duration, maxAttempts int, logger *slog.Logger) *Retrier {
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{Initial: initial, Max: maxDelay, MaxAttempts: maxAttempts, Logger: logger}
}

// Delay returns the pause after failed attempt n (1-indexed).
func (r *Retrier) Delay(attempt int) time.Duration {
	if attempt > 62 {
		return r.Max
	}
	d := time.Duration(float64(r.Initial) * math.Pow(2, float64(attempt-1)))
	if d <= 0 || (r.Max > 0 && d > r.Max) {
		return r.Max
	}
	return d
}

// Do calls op until it returns nil, a Permanent error, the attempt budget
// runs out, or ctx is done. It returns the number of attempts made.
func (r *Retrier) Do(ctx context.Context, what string, op func(ctx context.Context) error) (int, error) {
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return attempt, nil
		}
		if IsPermanent(err) {
			return attempt, err
		}
		if r.MaxAttempts > 0 && attempt >= r.MaxAttempts {
			return attempt, fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, what, attempt, err)
		}

		if cerr := ctx.Err(); cerr != nil {
			return attempt, fmt.Errorf("%s: %w (last error: %w)", what, cerr, err)
		}

		delay := r.Delay(attempt)
		logger.Warn("queue: "+what+" failed, pausing before retry",
			"attempt", attempt, "delay", delay, "err", err)
		if serr := sleep(ctx, delay); serr != nil {
			return attempt, fmt.Errorf("%s: %w (last error: %w)", what, serr, err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
