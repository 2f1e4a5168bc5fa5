package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of error for metrics and logging.
type ErrorCode string

// Error codes for categorization.
const (
	ErrCodeConfig          ErrorCode = "CONFIG"
	ErrCodeTransient       ErrorCode = "TRANSIENT_DELIVERY"
	ErrCodePermanent       ErrorCode = "PERMANENT_DELIVERY"
	ErrCodeInstrumentation ErrorCode = "INSTRUMENTATION"
	ErrCodeRedactionConfig ErrorCode = "REDACTION_CONFIG"
	ErrCodeAPI             ErrorCode = "API"
	ErrCodeAuth            ErrorCode = "AUTH"
	ErrCodeRateLimit       ErrorCode = "RATE_LIMIT"
	ErrCodeShutdown        ErrorCode = "SHUTDOWN"
)

// Error is the common interface for all SDK errors.
type Error interface {
	error

	// Code returns a machine-readable error code.
	Code() ErrorCode

	// IsRetryable returns true if the operation can be retried.
	IsRetryable() bool
}

// Sentinel errors.
var (
	ErrMissingAPIKey  = errors.New("agentreplay: API key is required in strict mode")
	ErrMissingURL     = errors.New("agentreplay: ingestion URL is required")
	ErrInvalidConfig  = errors.New("agentreplay: invalid configuration")
	ErrClientClosed   = errors.New("agentreplay: client is closed")
	ErrNotInitialized = errors.New("agentreplay: SDK is not initialized")
	ErrEmptyBatch     = errors.New("agentreplay: batch is empty")
)

// ConfigurationError reports an invalid or missing setting.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "agentreplay: configuration error: " + e.Reason
	}
	return fmt.Sprintf("agentreplay: configuration error for %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error     { return e.Err }
func (e *ConfigurationError) Code() ErrorCode   { return ErrCodeConfig }
func (e *ConfigurationError) IsRetryable() bool { return false }

// NewConfigurationError creates a configuration error wrapping cause.
func NewConfigurationError(field, reason string, cause error) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason, Err: cause}
}

// TransientDeliveryError reports a delivery failure that may succeed later.
type TransientDeliveryError struct {
	// Attempts is the number of delivery attempts made, including the first.
	Attempts int
	// Spans is the number of spans in the affected batch.
	Spans int
	Err   error
}

func (e *TransientDeliveryError) Error() string {
	return fmt.Sprintf("agentreplay: transient delivery failure (%d spans, %d attempts): %v",
		e.Spans, e.Attempts, e.Err)
}

func (e *TransientDeliveryError) Unwrap() error     { return e.Err }
func (e *TransientDeliveryError) Code() ErrorCode   { return ErrCodeTransient }
func (e *TransientDeliveryError) IsRetryable() bool { return true }

// PermanentDeliveryError reports a batch the sink will never accept.
type PermanentDeliveryError struct {
	Spans int
	Err   error
}

func (e *PermanentDeliveryError) Error() string {
	return fmt.Sprintf("agentreplay: permanent delivery failure, %d spans discarded: %v", e.Spans, e.Err)
}

func (e *PermanentDeliveryError) Unwrap() error     { return e.Err }
func (e *PermanentDeliveryError) Code() ErrorCode   { return ErrCodePermanent }
func (e *PermanentDeliveryError) IsRetryable() bool { return false }

// InstrumentationError reports a failure inside an instrumentation adapter.
type InstrumentationError struct {
	Op  string
	Err error
	// Recovered holds the panic value when the failure was a panic.
	Recovered any
}

func (e *InstrumentationError) Error() string {
	if e.Recovered != nil {
		return fmt.Sprintf("agentreplay: instrumentation panic in %s: %v", e.Op, e.Recovered)
	}
	return fmt.Sprintf("agentreplay: instrumentation error in %s: %v", e.Op, e.Err)
}

func (e *InstrumentationError) Unwrap() error     { return e.Err }
func (e *InstrumentationError) Code() ErrorCode   { return ErrCodeInstrumentation }
func (e *InstrumentationError) IsRetryable() bool { return false }

// RedactionConfigError reports a redaction pattern that failed to compile.
type RedactionConfigError struct {
	Pattern string
	Err     error
}

func (e *RedactionConfigError) Error() string {
	return fmt.Sprintf("agentreplay: invalid redaction pattern %q: %v", e.Pattern, e.Err)
}

func (e *RedactionConfigError) Unwrap() error     { return e.Err }
func (e *RedactionConfigError) Code() ErrorCode   { return ErrCodeRedactionConfig }
func (e *RedactionConfigError) IsRetryable() bool { return false }

// ShutdownError is returned when shutdown does not finish in time.
type ShutdownError struct {
	Cause error
	// PendingSpans estimates how many spans were lost.
	PendingSpans int
	Message      string
}

func (e *ShutdownError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "shutdown incomplete"
	}
	if e.PendingSpans > 0 {
		return fmt.Sprintf("agentreplay: %s (%d spans pending): %v", msg, e.PendingSpans, e.Cause)
	}
	return fmt.Sprintf("agentreplay: %s: %v", msg, e.Cause)
}

func (e *ShutdownError) Unwrap() error     { return e.Cause }
func (e *ShutdownError) Code() ErrorCode   { return ErrCodeShutdown }
func (e *ShutdownError) IsRetryable() bool { return false }

// Ensure the taxonomy implements Error.
var (
	_ Error = (*ConfigurationError)(nil)
	_ Error = (*TransientDeliveryError)(nil)
	_ Error = (*PermanentDeliveryError)(nil)
	_ Error = (*InstrumentationError)(nil)
	_ Error = (*RedactionConfigError)(nil)
	_ Error = (*ShutdownError)(nil)
	_ Error = (*APIError)(nil)
)

// IsTransient reports whether err is a transient delivery failure.
func IsTransient(err error) bool {
	var t *TransientDeliveryError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is a permanent delivery failure.
func IsPermanent(err error) bool {
	var p *PermanentDeliveryError
	return errors.As(err, &p)
}

// AsAPIError extracts an APIError from the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first taxonomy error in the chain, or "".
func CodeOf(err error) ErrorCode {
	var e Error
	if errors.As(err, &e) {
		return e.Code()
	}
	return ""
}
