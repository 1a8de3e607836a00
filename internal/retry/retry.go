package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Retry policy — one backoff abstraction shared by every call site that
// owns a retry budget (fetch, quote, submit, confirm, take-profit).
// ---------------------------------------------------------------------------

// Backoff selects how the inter-attempt delay grows.
type Backoff int

const (
	// Constant waits Delay between every attempt.
	Constant Backoff = iota
	// Linear waits Delay * attempt (1-based) between attempts.
	Linear
	// Exponential waits Delay * 2^(attempt-1) between attempts.
	Exponential
)

// Policy describes a bounded retry budget.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     Backoff
	Jitter      float64 // fraction of the delay randomized, 0 disables
}

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// wait returns the delay before attempt n (1-based, so wait before the
// second attempt is wait(1)).
func (p Policy) wait(attempt int) time.Duration {
	d := p.Delay
	switch p.Backoff {
	case Linear:
		d = p.Delay * time.Duration(attempt)
	case Exponential:
		d = p.Delay * time.Duration(1<<uint(attempt-1))
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d += time.Duration(rand.Float64()*2*spread - spread)
		if d < 0 {
			d = 0
		}
	}
	return d
}

// Do runs fn up to MaxAttempts times, sleeping the policy delay between
// attempts. It stops early when fn succeeds or the context is cancelled.
// The returned error wraps ErrExhausted when the budget runs out.
func (p Policy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(p.wait(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := fn(ctx); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().
				Str("op", name).
				Int("attempt", attempt).
				Int("max_attempts", p.MaxAttempts).
				Err(err).
				Msg("retry: attempt failed")
			continue
		}
		return nil
	}

	return fmt.Errorf("%w: %s after %d attempts: %w", ErrExhausted, name, p.MaxAttempts, lastErr)
}
