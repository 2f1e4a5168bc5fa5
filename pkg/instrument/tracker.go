package instrument

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agentreplay/agentreplay-go/pkg/span"
)

// ErrAbandoned marks spans ended by RunTracker.Abandon.
var ErrAbandoned = errors.New("agentreplay: run abandoned before completion")

type run struct {
	span  *span.Span
	ctx   context.Context
	start time.Time
}

// RunTracker correlates start and end events of framework runs that arrive
// as separate callbacks. It is safe for concurrent use.
type RunTracker struct {
	tracer *span.Tracer

	mu   sync.Mutex
	runs map[string]run
}

// NewRunTracker returns a tracker starting spans on tracer.
func NewRunTracker(tracer *span.Tracer) *RunTracker {
	return &RunTracker{tracer: tracer, runs: make(map[string]run)}
}

// Start opens a span for runID. When parentRunID names a tracked run the new
// span is its child; otherwise the span on ctx, if any, is the parent. A
// second Start for a tracked runID is ignored and returns the existing
// context. The returned context carries the new span.
func (t *RunTracker) Start(ctx context.Context, runID, parentRunID string, kind span.Kind, name string, attrs map[string]any) context.Context {
	ctx, _ = t.start(ctx, runID, parentRunID, kind, name, attrs)
	return ctx
}

// start reports the span only when it was created by this call.
func (t *RunTracker) start(ctx context.Context, runID, parentRunID string, kind span.Kind, name string, attrs map[string]any) (context.Context, *span.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.runs[runID]; ok {
		return r.ctx, nil
	}

	opts := []span.StartOption{span.WithAttributes(attrs)}
	if parent, ok := t.runs[parentRunID]; ok && parentRunID != "" {
		opts = append(opts, span.WithParent(parent.span))
	}
	sctx, s := t.tracer.Start(ctx, kind, name, opts...)
	t.runs[runID] = run{span: s, ctx: sctx, start: s.StartTime()}
	return sctx, s
}

// Span returns the open span for runID, or nil.
func (t *RunTracker) Span(runID string) *span.Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs[runID].span
}

// Started returns when runID started, and whether it is tracked.
func (t *RunTracker) Started(runID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.runs[runID]
	return r.start, ok
}

func (t *RunTracker) pop(runID string) *span.Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.runs[runID]
	if !ok {
		return nil
	}
	delete(t.runs, runID)
	return r.span
}

// End records output and usage on runID's span and ends it. Unknown run IDs
// are ignored.
func (t *RunTracker) End(runID string, output any, usage span.TokenUsage) {
	s := t.pop(runID)
	if s == nil {
		return
	}
	if output != nil {
		s.SetOutput(output)
	}
	if !usage.IsZero() {
		s.SetTokenUsage(usage)
	}
	s.End()
}

// Fail marks runID's span failed with err and ends it. Unknown run IDs are
// ignored.
func (t *RunTracker) Fail(runID string, err error) {
	s := t.pop(runID)
	if s == nil {
		return
	}
	s.SetError(err)
	s.End()
}

// Len returns the number of open runs.
func (t *RunTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.runs)
}

// Abandon ends every open run with ErrAbandoned and returns how many there
// were.
func (t *RunTracker) Abandon() int {
	t.mu.Lock()
	runs := t.runs
	t.runs = make(map[string]run)
	t.mu.Unlock()

	for _, r := range runs {
		r.span.SetError(ErrAbandoned)
		r.span.End()
	}
	return len(runs)
}
