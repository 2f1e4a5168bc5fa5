package instrument

import (
	"sync"

	"github.com/agentreplay/agentreplay-go/pkg/logging"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

// Attributes recorded on streamed spans.
const (
	AttrStreamChunks      = "stream.chunks"
	AttrStreamClosedEarly = "stream.closed_early"
)

// EventFirstChunk marks when the first chunk of a stream arrived.
const EventFirstChunk = "stream.first_chunk"

// Iterator is the pull-style stream shape used by the provider SDKs.
type Iterator[T any] interface {
	Next() bool
	Current() T
	Err() error
	Close() error
}

// StreamConfig wires a Stream to its span.
type StreamConfig[T any] struct {
	// Accumulate folds one chunk into the span or into state the caller
	// owns. Failures are recovered and logged; the chunk is still delivered.
	Accumulate func(s *span.Span, chunk T) error

	// Finish runs once before the span ends, with the stream error if any.
	Finish func(s *span.Span, err error) error

	Logger logging.StructuredLogger
}

// Stream wraps an Iterator and keeps a span open until the stream is
// exhausted, fails or is closed. The span ends exactly once. Chunks and
// errors pass through unchanged.
type Stream[T any] struct {
	it     Iterator[T]
	span   *span.Span
	cfg    StreamConfig[T]
	chunks int64
	done   bool
	once   sync.Once
}

// NewStream returns a Stream reading from it and reporting to s.
func NewStream[T any](it Iterator[T], s *span.Span, cfg StreamConfig[T]) *Stream[T] {
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger{}
	}
	return &Stream[T]{it: it, span: s, cfg: cfg}
}

// Next advances the stream. When it returns false the span has ended.
func (st *Stream[T]) Next() bool {
	if st.done {
		return false
	}
	if !st.it.Next() {
		st.done = true
		st.finish(st.it.Err(), false)
		return false
	}
	st.chunks++
	if st.chunks == 1 {
		st.span.AddEvent(EventFirstChunk, nil)
	}
	if st.cfg.Accumulate != nil {
		chunk := st.it.Current()
		Guard(st.cfg.Logger, "stream.accumulate", func() error {
			return st.cfg.Accumulate(st.span, chunk)
		})
	}
	return true
}

// Current returns the chunk read by the last call to Next.
func (st *Stream[T]) Current() T {
	return st.it.Current()
}

// Err returns the error that stopped the stream, if any.
func (st *Stream[T]) Err() error {
	return st.it.Err()
}

// Close releases the underlying stream and ends the span if it is still
// open. Closing before exhaustion is recorded on the span.
func (st *Stream[T]) Close() error {
	err := st.it.Close()
	st.finish(nil, !st.done)
	st.done = true
	return err
}

// Span returns the span the stream reports to.
func (st *Stream[T]) Span() *span.Span {
	return st.span
}

func (st *Stream[T]) finish(err error, early bool) {
	st.once.Do(func() {
		st.span.SetAttribute(AttrStreamChunks, st.chunks)
		if early {
			st.span.SetAttribute(AttrStreamClosedEarly, true)
		}
		if st.cfg.Finish != nil {
			Guard(st.cfg.Logger, "stream.finish", func() error {
				return st.cfg.Finish(st.span, err)
			})
		}
		st.span.SetError(err)
		st.span.End()
	})
}
