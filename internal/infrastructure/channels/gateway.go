// Package channels implements the outbound delivery adapters for guardian
// notifications: HTTP gateway clients for email and SMS, plus a console
// sender for local development. Gateway calls go through a circuit breaker
// and an exponential-backoff retrier.
package channels

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError represents an error response from a delivery gateway.
type APIError struct {
	// Status is the HTTP status code of the response.
	Status int

	// Message is the gateway's error description, when it sent one.
	Message string

	// RetryAfter is the Retry-After hint in seconds, 0 when absent.
	RetryAfter int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway error %d", e.Status)
	}
	return fmt.Sprintf("gateway error %d: %s", e.Status, e.Message)
}

// isRetryableError reports whether a gateway call is worth repeating.
// Rate limits and server errors are; other client errors are not.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusTooManyRequests {
			return true
		}
		if apiErr.Status >= 500 {
			return true
		}
		return false
	}

	// Network errors are retryable.
	msg := err.Error()
	for _, marker := range []string{"timeout", "connection refused", "temporary", "reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// retryAfterSeconds parses a Retry-After header value. Only the
// delta-seconds form is understood; HTTP dates yield 0.
func retryAfterSeconds(resp *http.Response) int {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0
	}
	return seconds
}

var (
	// ErrMissingRecipient - the contact has no endpoint for the channel.
	ErrMissingRecipient = errors.New("channels: missing recipient")
)
