// Package ingestion buffers ended spans and delivers them in batches.
//
// A Processor owns a bounded drop-oldest Buffer, a bounded retry queue and a
// single background worker. Insert is an O(1) append that never blocks on
// I/O. The worker flushes as soon as a full batch is buffered or when the
// flush interval passes without a flush, whichever comes first.
//
// Delivery failures are classified: transient failures (timeouts, 429, 5xx,
// connection errors) are retried with backoff and then parked in the retry
// queue for a later cycle; permanent failures are discarded and logged.
// Batches leave the live buffer in insertion order. A parked batch may be
// delivered after newer live batches.
package ingestion
