package span

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/agentreplay/agentreplay-go/pkg/id"
)

// Span is an in-flight node of a trace. It is safe for concurrent use.
// Mutations after End are ignored.
type Span struct {
	tracer *Tracer
	parent *Span

	id       id.ID
	traceID  id.ID
	parentID id.ID
	kind     Kind
	start    time.Time

	mu            sync.Mutex
	ended         bool
	end           time.Time
	name          string
	input         any
	output        any
	model         string
	usage         TokenUsage
	cost          *float64
	attrs         map[string]any
	events        []Event
	status        Status
	statusMessage string
}

func (s *Span) ID() id.ID       { return s.id }
func (s *Span) TraceID() id.ID  { return s.traceID }
func (s *Span) ParentID() id.ID { return s.parentID }
func (s *Span) Kind() Kind      { return s.kind }

// StartTime returns when the span started.
func (s *Span) StartTime() time.Time { return s.start }

func (s *Span) startTime() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.start
}

// Name returns the span name.
func (s *Span) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// IsEnded reports whether End has been called.
func (s *Span) IsEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// update runs fn under the lock unless the span has ended.
func (s *Span) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		fn()
	}
}

// SetName renames the span.
func (s *Span) SetName(name string) {
	s.update(func() { s.name = name })
}

// SetInput records the input payload, subject to the tracer's capture
// settings.
func (s *Span) SetInput(v any) {
	cfg := s.tracer.config()
	if cfg.OmitInput {
		return
	}
	v = truncatePayload(v, cfg.MaxPayloadSize)
	s.update(func() { s.input = v })
}

// SetOutput records the output payload, subject to the tracer's capture
// settings.
func (s *Span) SetOutput(v any) {
	cfg := s.tracer.config()
	if cfg.OmitOutput {
		return
	}
	v = truncatePayload(v, cfg.MaxPayloadSize)
	s.update(func() { s.output = v })
}

// SetAttribute sets one attribute. Values are normalized to string, int64,
// float64 or bool.
func (s *Span) SetAttribute(key string, value any) {
	value = NormalizeAttribute(value)
	s.update(func() { s.attrs[key] = value })
}

// SetAttributes sets several attributes.
func (s *Span) SetAttributes(attrs map[string]any) {
	norm := make(map[string]any, len(attrs))
	for k, v := range attrs {
		norm[k] = NormalizeAttribute(v)
	}
	s.update(func() { maps.Copy(s.attrs, norm) })
}

// Event is a timestamped annotation on a span.
type Event struct {
	Name       string
	Time       time.Time
	Attributes map[string]any
}

// AddEvent records a named event at the current time. Attribute values are
// normalized like span attributes.
func (s *Span) AddEvent(name string, attrs map[string]any) {
	var norm map[string]any
	if len(attrs) > 0 {
		norm = make(map[string]any, len(attrs))
		for k, v := range attrs {
			norm[k] = NormalizeAttribute(v)
		}
	}
	now := s.tracer.config().Now()
	if now.Before(s.start) {
		now = s.start
	}
	s.update(func() {
		s.events = append(s.events, Event{Name: name, Time: now, Attributes: norm})
	})
}

// SetModel records the model name.
func (s *Span) SetModel(model string) {
	s.update(func() { s.model = model })
}

// SetTokenUsage records token counts. Total is derived when zero.
func (s *Span) SetTokenUsage(u TokenUsage) {
	u = u.Normalize()
	s.update(func() { s.usage = u })
}

// AddTokenUsage accumulates token counts, for streamed responses.
func (s *Span) AddTokenUsage(u TokenUsage) {
	s.update(func() {
		s.usage.Prompt += u.Prompt
		s.usage.Completion += u.Completion
		s.usage.Total += u.Normalize().Total
	})
}

// SetCost records the monetary cost of the operation. NaN and infinite
// values are ignored.
func (s *Span) SetCost(cost float64) {
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return
	}
	s.update(func() { s.cost = &cost })
}

// SetStatus sets the outcome. msg is kept only for StatusError.
func (s *Span) SetStatus(status Status, msg string) {
	s.update(func() {
		s.status = status
		if status == StatusError {
			s.statusMessage = msg
		} else {
			s.statusMessage = ""
		}
	})
}

// SetError marks the span failed and records err's type and message.
// A nil err is ignored.
func (s *Span) SetError(err error) {
	if err == nil {
		return
	}
	s.update(func() {
		s.status = StatusError
		s.statusMessage = err.Error()
		s.attrs[AttrErrorType] = fmt.Sprintf("%T", err)
		s.attrs[AttrErrorMessage] = err.Error()
	})
}

// End finishes the span now. Only the first call has an effect.
func (s *Span) End() {
	s.EndAt(time.Time{})
}

// EndAt finishes the span at t, or now when t is zero. When the parent
// has already ended, t is clamped to the parent's end time. The end time
// is never earlier than the start. Only the first call has an effect.
func (s *Span) EndAt(t time.Time) {
	if s == nil {
		return
	}
	if t.IsZero() {
		t = s.tracer.config().Now()
	}
	if pe, ok := s.parent.endTime(); ok && t.After(pe) {
		t = pe
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	if t.Before(s.start) {
		t = s.start
	}
	s.end = t
	rec := s.recordLocked()
	s.mu.Unlock()

	s.tracer.emit(rec)
}

// EndTime returns the end time and whether the span has ended.
func (s *Span) EndTime() (time.Time, bool) {
	return s.endTime()
}

func (s *Span) endTime() (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end, s.ended
}

// Snapshot returns the current state as a Record without ending the span.
func (s *Span) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked()
}

func (s *Span) recordLocked() Record {
	return Record{
		SpanID:        s.id,
		TraceID:       s.traceID,
		ParentID:      s.parentID,
		Name:          s.name,
		Kind:          s.kind,
		StartTime:     s.start,
		EndTime:       s.end,
		Input:         s.input,
		Output:        s.output,
		Model:         s.model,
		Usage:         s.usage,
		Cost:          s.cost,
		Attributes:    maps.Clone(s.attrs),
		Events:        slices.Clone(s.events),
		Status:        s.status,
		StatusMessage: s.statusMessage,
	}
}

func truncatePayload(v any, limit int) any {
	str, ok := v.(string)
	if !ok || limit <= 0 || len(str) <= limit {
		return v
	}
	return TruncateString(str, limit)
}

// TruncateString cuts s to at most limit bytes on a rune boundary and
// appends TruncationSuffix.
func TruncateString(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncationSuffix
}
