// Package agentctx propagates agent, session, workflow and user identifiers
// alongside a context.Context.
//
// Layers are installed with Activate and read with Current. An inner layer
// overrides only the fields it sets; unset fields fall through to the
// enclosing layer and finally to the process-wide defaults installed with
// SetGlobal.
//
// Because layers live on the context, a goroutine started with a derived
// context observes the layers active when the context was derived, and two
// independently derived contexts never observe each other's layers.
package agentctx

import (
	"context"
	"sync"
	"sync/atomic"
)

// Fields is the set of ambient identifiers. Empty strings are unset.
type Fields struct {
	AgentID    string `json:"agent_id,omitempty" yaml:"agent_id"`
	SessionID  string `json:"session_id,omitempty" yaml:"session_id"`
	WorkflowID string `json:"workflow_id,omitempty" yaml:"workflow_id"`
	UserID     string `json:"user_id,omitempty" yaml:"user_id"`
}

// Attribute keys used when fields are copied onto spans.
const (
	AttrAgentID    = "agent_id"
	AttrSessionID  = "session_id"
	AttrWorkflowID = "workflow_id"
	AttrUserID     = "user_id"
)

// IsZero reports whether no field is set.
func (f Fields) IsZero() bool {
	return f == Fields{}
}

// Merge returns f with every unset field taken from fallback.
func (f Fields) Merge(fallback Fields) Fields {
	if f.AgentID == "" {
		f.AgentID = fallback.AgentID
	}
	if f.SessionID == "" {
		f.SessionID = fallback.SessionID
	}
	if f.WorkflowID == "" {
		f.WorkflowID = fallback.WorkflowID
	}
	if f.UserID == "" {
		f.UserID = fallback.UserID
	}
	return f
}

// Attributes returns the set fields keyed by their attribute names.
func (f Fields) Attributes() map[string]string {
	attrs := make(map[string]string, 4)
	if f.AgentID != "" {
		attrs[AttrAgentID] = f.AgentID
	}
	if f.SessionID != "" {
		attrs[AttrSessionID] = f.SessionID
	}
	if f.WorkflowID != "" {
		attrs[AttrWorkflowID] = f.WorkflowID
	}
	if f.UserID != "" {
		attrs[AttrUserID] = f.UserID
	}
	return attrs
}

type layerKey struct{}

// layer is immutable once stored on a context. merged caches the result of
// folding this layer over its parents so Current is a single lookup.
type layer struct {
	merged Fields
}

// Activate returns a context carrying f layered over the layers already on ctx.
// The enclosing layer is restored by continuing to use ctx.
func Activate(ctx context.Context, f Fields) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, layerKey{}, &layer{merged: f.Merge(fromContext(ctx))})
}

func fromContext(ctx context.Context) Fields {
	if ctx == nil {
		return Fields{}
	}
	if l, ok := ctx.Value(layerKey{}).(*layer); ok {
		return l.merged
	}
	return Fields{}
}

// Current returns the merged fields of all layers on ctx, falling back to the
// global defaults. It never fails; ctx may be nil.
func Current(ctx context.Context) Fields {
	return fromContext(ctx).Merge(Global())
}

var (
	globalMu sync.Mutex
	global   atomic.Pointer[Fields]
)

// Global returns the process-wide defaults.
func Global() Fields {
	if f := global.Load(); f != nil {
		return *f
	}
	return Fields{}
}

// Scope is a handle to a change of the global defaults.
type Scope struct {
	prev   Fields
	closed atomic.Bool
}

// SetGlobal merges f into the process-wide defaults. Closing the returned
// Scope restores the defaults that were in place before the call. Scopes
// should be closed in reverse order of creation.
func SetGlobal(f Fields) *Scope {
	globalMu.Lock()
	defer globalMu.Unlock()

	prev := Global()
	next := f.Merge(prev)
	global.Store(&next)
	return &Scope{prev: prev}
}

// Close restores the previous global defaults. It is idempotent.
func (s *Scope) Close() {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	globalMu.Lock()
	defer globalMu.Unlock()

	prev := s.prev
	global.Store(&prev)
}

// ClearGlobal resets the process-wide defaults.
func ClearGlobal() {
	globalMu.Lock()
	defer globalMu.Unlock()
	global.Store(nil)
}
