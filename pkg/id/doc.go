// Package id provides the 128-bit identifiers used for traces and spans.
//
// Identifiers are random values drawn from github.com/google/uuid. When the
// random source fails, the default Generator falls back to a value built from
// the wall clock, an atomic counter and the process ID, so span creation never
// fails. A strict Generator returns the error instead.
//
//	traceID := id.NewTraceID()
//	fmt.Println(traceID) // 32 lowercase hex digits
package id
