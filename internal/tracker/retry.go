package tracker

import (
	"context"
	"math/rand"
	"time"
)

// Backoff computes jittered exponential delays for transient tracker errors.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
	rng  *rand.Rand
}

// NewBackoff returns a Backoff with the given base and cap.
func NewBackoff(base, cap time.Duration) *Backoff {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if cap < base {
		cap = 30 * time.Second
	}
	return &Backoff{Base: base, Cap: cap, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Delay returns the delay before retry number attempt (0-based), capped and
// jittered by up to 25%.
func (b *Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	jitter := time.Duration(b.rng.Int63n(int64(d/4) + 1))
	if d+jitter > b.Cap {
		return b.Cap
	}
	return d + jitter
}

// Retry runs fn up to maxAttempts times, sleeping the backoff delay between
// transient failures. Non-transient errors and context cancellation abort
// immediately.
func Retry(ctx context.Context, b *Backoff, maxAttempts int, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = fn(); err == nil || !IsTransient(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Delay(attempt)):
		}
	}
	return err
}
