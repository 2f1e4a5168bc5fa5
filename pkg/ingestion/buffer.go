package ingestion

import "github.com/agentreplay/agentreplay-go/pkg/span"

// Buffer is a bounded FIFO ring of closed spans. When full, Push evicts the
// oldest entry. Buffer is not safe for concurrent use; the Processor
// serializes access.
type Buffer struct {
	items   []span.Record
	head    int
	size    int
	dropped int64
}

// NewBuffer returns a Buffer holding at most capacity records.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{items: make([]span.Record, capacity)}
}

// Push appends rec and reports whether the oldest record was evicted.
func (b *Buffer) Push(rec span.Record) (evicted bool) {
	if b.size == len(b.items) {
		b.items[b.head] = rec
		b.head = (b.head + 1) % len(b.items)
		b.dropped++
		return true
	}
	b.items[(b.head+b.size)%len(b.items)] = rec
	b.size++
	return false
}

// PopN removes and returns up to n records from the front.
func (b *Buffer) PopN(n int) []span.Record {
	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]span.Record, n)
	for i := range out {
		idx := (b.head + i) % len(b.items)
		out[i] = b.items[idx]
		b.items[idx] = span.Record{}
	}
	b.head = (b.head + n) % len(b.items)
	b.size -= n
	return out
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int { return b.size }

// Cap returns the capacity.
func (b *Buffer) Cap() int { return len(b.items) }

// Dropped returns the number of records evicted since creation.
func (b *Buffer) Dropped() int64 { return b.dropped }
