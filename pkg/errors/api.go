package errors

import (
	"fmt"
	"time"
)

// Sentinel APIError values for use with errors.Is.
// These match on status code only.
var (
	ErrUnauthorized = &APIError{StatusCode: 401}
	ErrForbidden    = &APIError{StatusCode: 403}
	ErrRateLimited  = &APIError{StatusCode: 429}
)

// APIError represents an error response from the ingestion server.
type APIError struct {
	StatusCode   int           `json:"statusCode"`
	Message      string        `json:"message"`
	ErrorMessage string        `json:"error"`
	RequestID    string        `json:"-"`
	RetryAfter   time.Duration `json:"-"` // From Retry-After header
	Err          error         `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.ErrorMessage
	}

	switch {
	case msg != "" && e.RequestID != "":
		return fmt.Sprintf("agentreplay: API error (status %d, request %s): %s", e.StatusCode, e.RequestID, msg)
	case msg != "":
		return fmt.Sprintf("agentreplay: API error (status %d): %s", e.StatusCode, msg)
	case e.RequestID != "":
		return fmt.Sprintf("agentreplay: API error (status %d, request %s)", e.StatusCode, e.RequestID)
	default:
		return fmt.Sprintf("agentreplay: API error (status %d)", e.StatusCode)
	}
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is matches on status code, allowing comparisons like:
//
//	if errors.Is(err, errors.ErrRateLimited) { ... }
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.StatusCode == t.StatusCode
}

// IsRateLimited returns true for 429 Too Many Requests.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsServerError returns true for 5xx responses.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if resubmitting the request can succeed.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}

// SuggestedRetryAfter returns the server's Retry-After hint.
func (e *APIError) SuggestedRetryAfter() time.Duration {
	return e.RetryAfter
}

// Code returns the error code for the API error.
func (e *APIError) Code() ErrorCode {
	switch {
	case e.StatusCode == 401, e.StatusCode == 403:
		return ErrCodeAuth
	case e.IsRateLimited():
		return ErrCodeRateLimit
	default:
		return ErrCodeAPI
	}
}
