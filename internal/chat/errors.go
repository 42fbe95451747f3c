package chat

import (
	"fmt"
	"time"
)

// Reason classifies a provider failure.
type Reason string

const (
	ReasonNotMacOS         Reason = "not_macos"          // FM bridge requires macOS Foundation Models
	ReasonBridgeNotFound   Reason = "bridge_not_found"   // bridge binary missing
	ReasonServerNotRunning Reason = "server_not_running" // endpoint unreachable
	ReasonModelUnavailable Reason = "model_unavailable"  // model not served by this backend
	ReasonRequestFailed    Reason = "request_failed"     // HTTP-level failure
	ReasonInvalidResponse  Reason = "invalid_response"   // body did not parse or lacked choices
	ReasonTimeout          Reason = "timeout"            // request or startup deadline exceeded
)

// ProviderError is the unified failure shape returned by every provider.
// Status is the HTTP status when one was received, 0 otherwise.
type ProviderError struct {
	Provider   string
	Reason     Reason
	Status     int
	RetryAfter *time.Duration
	Cause      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s provider: %s", e.Provider, e.Reason)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Retryable reports whether the retry loop should try again: network-level
// request failures, 5xx, 429, 408, and timeouts. Structural failures
// (missing bridge, unknown model, unparseable body) never retry.
func (e *ProviderError) Retryable() bool {
	switch e.Reason {
	case ReasonTimeout:
		return true
	case ReasonRequestFailed:
		if e.Status == 0 { // connection-level failure, no response
			return true
		}
		return e.Status == 408 || e.Status == 429 || e.Status >= 500
	default:
		return false
	}
}

// retryable reports whether err asks for another attempt.
func retryable(err error) bool {
	type r interface{ Retryable() bool }
	if re, ok := err.(r); ok {
		return re.Retryable()
	}
	return false
}

// retryAfterOf extracts a server-provided retry delay, if any.
func retryAfterOf(err error) *time.Duration {
	if pe, ok := err.(*ProviderError); ok {
		return pe.RetryAfter
	}
	return nil
}
