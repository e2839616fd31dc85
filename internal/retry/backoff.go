// Package retry paces outbound peer dials and guards the shared SSH
// gateway those dials go through.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError marks a dial failure no amount of waiting will fix,
// such as an unknown peer or a rejected host key.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so [Backoff.Do] returns it without another try.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a [PermanentError].
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff retries a dial with exponentially growing waits.  The zero
// value is usable and behaves like [DefaultBackoff] without jitter.
type Backoff struct {
	Base     time.Duration // wait after the first failure (250ms)
	Cap      time.Duration // longest single wait (5s)
	Factor   float64       // growth per failure (2)
	Attempts int           // total tries; 0 leaves the bound to ctx

	// Jitter randomises each wait by up to this fraction (0.25 means
	// ±25%).  0 disables it.
	Jitter float64

	// Retryable, when set, vetoes another try for the errors it
	// rejects.  Permanent errors never retry.
	Retryable func(error) bool
}

// DefaultBackoff fits a dial inside a handshake window: fast early
// retries and no attempt limit, so the handshake deadline decides.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Base:   250 * time.Millisecond,
		Cap:    5 * time.Second,
		Factor: 2,
		Jitter: 0.25,
	}
}

// Delay returns the un-jittered wait that follows failed attempt n
// (1-based).
func (b *Backoff) Delay(n int) time.Duration {
	base, limit, factor := b.Base, b.Cap, b.Factor
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if limit <= 0 {
		limit = 5 * time.Second
	}
	if factor < 1 {
		factor = 2
	}
	if n < 1 {
		n = 1
	}
	d := float64(base) * math.Pow(factor, float64(n-1))
	if d >= float64(limit) {
		return limit
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds or the failure is final: a permanent
// or non-retryable error, the attempt limit, or ctx.  A wait that
// would end past the ctx deadline is not started; the last dial error
// is returned instead so the caller sees why the peer was unreachable.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		switch {
		case errors.As(err, &pe):
			return pe.Err
		case b.Retryable != nil && !b.Retryable(err):
			return err
		case b.Attempts > 0 && attempt >= b.Attempts:
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		wait := b.spread(b.Delay(attempt))
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			return fmt.Errorf("giving up after %d attempt(s): %w", attempt, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (b *Backoff) spread(d time.Duration) time.Duration {
	if b.Jitter <= 0 {
		return d
	}
	j := math.Min(b.Jitter, 1)
	delta := (rand.Float64()*2 - 1) * j * float64(d)
	return time.Duration(math.Max(float64(d)+delta, float64(time.Millisecond)))
}
