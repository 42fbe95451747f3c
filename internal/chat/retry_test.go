package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDoStopsOnNonRetryable verifies the loop gives up immediately on a
// structural failure.
func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}, "k", func(context.Context) error {
		calls++
		return &ProviderError{Provider: "openai", Reason: ReasonInvalidResponse}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

// TestDoRetriesRetryable verifies retryable failures use the whole attempt
// budget before surfacing.
func TestDoRetriesRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, "k", func(context.Context) error {
		calls++
		return &ProviderError{Provider: "openai", Reason: ReasonRequestFailed, Status: 503}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 503, pe.Status)
}

// TestDoSucceedsMidway verifies a success after a retryable failure returns
// nil.
func TestDoSucceedsMidway(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, "k", func(context.Context) error {
		calls++
		if calls < 2 {
			return &ProviderError{Provider: "openai", Reason: ReasonTimeout}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

// TestDelayForAttemptDeterministic verifies jittered delays are reproducible
// for a given key and grow exponentially.
func TestDelayForAttemptDeterministic(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Jitter: true}

	d1 := DelayForAttempt(p, 1, "session-x")
	d1again := DelayForAttempt(p, 1, "session-x")
	assert.Equal(t, d1, d1again)

	// Jitter stays inside [0.5, 1.5) of the base.
	assert.GreaterOrEqual(t, d1, 50*time.Millisecond)
	assert.Less(t, d1, 150*time.Millisecond)

	d2 := DelayForAttempt(p, 2, "session-x")
	assert.GreaterOrEqual(t, d2, 100*time.Millisecond)
	assert.Less(t, d2, 300*time.Millisecond)
}

// TestRetryableClassification verifies the status-based retry predicate.
func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  *ProviderError
		want bool
	}{
		{"network", &ProviderError{Reason: ReasonRequestFailed, Status: 0}, true},
		{"rate limited", &ProviderError{Reason: ReasonRequestFailed, Status: 429}, true},
		{"server error", &ProviderError{Reason: ReasonRequestFailed, Status: 502}, true},
		{"timeout", &ProviderError{Reason: ReasonTimeout}, true},
		{"bad request", &ProviderError{Reason: ReasonRequestFailed, Status: 400}, false},
		{"auth", &ProviderError{Reason: ReasonRequestFailed, Status: 401}, false},
		{"model unavailable", &ProviderError{Reason: ReasonModelUnavailable, Status: 404}, false},
		{"invalid response", &ProviderError{Reason: ReasonInvalidResponse}, false},
		{"server not running", &ProviderError{Reason: ReasonServerNotRunning}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Retryable())
		})
	}
}
