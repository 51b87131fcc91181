package paypal

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthError means the adapter could not obtain or use an access credential.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("paypal auth failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RequestError is any failed call to the processor. StatusCode is zero
// when no response arrived; Body keeps the raw payload for diagnostics.
type RequestError struct {
	Op         string
	StatusCode int
	Name       string
	Issue      string
	DebugID    string
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("paypal %s: %v", e.Op, e.Err)
	}
	if e.Issue != "" {
		return fmt.Sprintf("paypal %s: status %d: %s (%s)", e.Op, e.StatusCode, e.Name, e.Issue)
	}
	return fmt.Sprintf("paypal %s: status %d: %s", e.Op, e.StatusCode, e.Name)
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsClientError reports a 4xx answer. Such answers mean the processor is
// healthy, so they do not count against the circuit breaker.
func IsClientError(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return false
	}
	return reqErr.StatusCode >= 400 && reqErr.StatusCode < 500 &&
		reqErr.StatusCode != http.StatusTooManyRequests
}

func IsNotFound(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound
}
