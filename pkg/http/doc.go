// Package http holds the delivery transport policy: retry strategies,
// transient/permanent failure classification, a circuit breaker and
// request hooks used by the HTTP exporter.
package http
