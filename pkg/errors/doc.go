// Package errors defines the error taxonomy of the agentreplay SDK.
//
// Errors fall into five families:
//
//   - ConfigurationError: invalid or missing settings. Only surfaced from
//     client construction when strict mode is enabled.
//   - TransientDeliveryError: a batch could not be delivered but may succeed
//     later (timeouts, 5xx, 429, connection resets). Retried with backoff.
//   - PermanentDeliveryError: the sink rejected the batch in a way that
//     resubmission cannot fix (4xx other than 429). The batch is discarded.
//   - InstrumentationError: a failure inside an adapter. Always caught at the
//     adapter boundary and reported through the logger, never returned to
//     instrumented code.
//   - RedactionConfigError: a malformed redaction pattern, returned when the
//     redactor is configured.
//
// APIError carries the HTTP status of a failed sink request and is usually
// found wrapped inside a delivery error:
//
//	var apiErr *errors.APIError
//	if stdErrors.As(err, &apiErr) && apiErr.IsRateLimited() {
//	    ...
//	}
//
// All taxonomy errors implement the Error interface, which exposes a
// machine-readable Code for metrics and logging.
package errors
