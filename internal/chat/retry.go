package chat

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	maxBackoffDelay    = 30 * time.Second
)

// Policy bounds the retry loop around a chat request.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // doubled per attempt
	Jitter      bool          // multiply each delay by [0.5,1.5)
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	return p
}

// Do runs fn until it succeeds, fails non-retryably, or exhausts the attempt
// budget. The jitter multiplier is derived by hashing jitterKey with the
// attempt number, so delays are reproducible for a given key. A server's
// Retry-After wins over the computed backoff.
func Do(ctx context.Context, policy Policy, jitterKey string, fn func(context.Context) error) error {
	policy = policy.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == policy.MaxAttempts {
			return lastErr
		}

		delay := DelayForAttempt(policy, attempt, jitterKey)
		if ra := retryAfterOf(lastErr); ra != nil && *ra > delay {
			delay = *ra
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// DelayForAttempt computes the backoff before retrying after the given
// 1-indexed attempt: base * 2^(attempt-1), capped, with deterministic jitter.
func DelayForAttempt(policy Policy, attempt int, jitterKey string) time.Duration {
	policy = policy.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(policy.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxBackoffDelay) {
		delay = float64(maxBackoffDelay)
	}
	if policy.Jitter {
		delay *= 0.5 + jitterUnit(fmt.Sprintf("%s:%d", jitterKey, attempt))
	}
	return time.Duration(delay)
}

// jitterUnit hashes a seed into [0,1].
func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u) / float64(^uint64(0))
}
