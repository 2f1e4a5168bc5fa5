package span

import (
	"context"
	"time"

	"github.com/agentreplay/agentreplay-go/pkg/agentctx"
	"github.com/agentreplay/agentreplay-go/pkg/id"
)

// Processor receives each ended span exactly once. OnEnd must not block.
type Processor interface {
	OnEnd(rec Record)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(rec Record)

func (f ProcessorFunc) OnEnd(rec Record) { f(rec) }

// IDSource produces span and trace identifiers.
type IDSource interface {
	New() id.ID
}

// TruncationSuffix marks payload strings cut at MaxPayloadSize.
const TruncationSuffix = "…[truncated]"

// Config configures a Tracer.
type Config struct {
	// Processor receives ended spans. Nil discards them.
	Processor Processor

	// OmitInput and OmitOutput drop payloads instead of recording them.
	OmitInput  bool
	OmitOutput bool

	// MaxPayloadSize truncates string payloads longer than this many bytes.
	// Zero disables truncation.
	MaxPayloadSize int

	// Now overrides the clock.
	Now func() time.Time

	// IDs overrides the identifier source.
	IDs IDSource
}

// Tracer starts spans. A nil *Tracer starts spans that are never exported.
type Tracer struct {
	cfg Config
}

// NewTracer creates a Tracer.
func NewTracer(cfg Config) *Tracer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IDs == nil {
		cfg.IDs = id.NewGenerator(nil)
	}
	return &Tracer{cfg: cfg}
}

// StartOption customizes Start.
type StartOption func(*startConfig)

type startConfig struct {
	parent       *Span
	parentSet    bool
	remoteTrace  id.ID
	remoteParent id.ID
	start        time.Time
	attrs        map[string]any
	input        any
	hasInput     bool
	model        string
}

// WithParent sets the parent explicitly. A nil parent starts a root span
// even when the context carries one.
func WithParent(parent *Span) StartOption {
	return func(c *startConfig) {
		c.parent = parent
		c.parentSet = true
	}
}

// WithRemoteParent continues a trace whose parent span lives elsewhere.
func WithRemoteParent(traceID, parentID id.ID) StartOption {
	return func(c *startConfig) {
		c.remoteTrace = traceID
		c.remoteParent = parentID
		c.parentSet = true
	}
}

// WithStartTime backdates the span.
func WithStartTime(t time.Time) StartOption {
	return func(c *startConfig) { c.start = t }
}

// WithAttributes sets initial attributes.
func WithAttributes(attrs map[string]any) StartOption {
	return func(c *startConfig) {
		if c.attrs == nil {
			c.attrs = make(map[string]any, len(attrs))
		}
		for k, v := range attrs {
			c.attrs[k] = v
		}
	}
}

// WithInput records the input at start.
func WithInput(v any) StartOption {
	return func(c *startConfig) {
		c.input = v
		c.hasInput = true
	}
}

// WithModel records the model name at start.
func WithModel(model string) StartOption {
	return func(c *startConfig) { c.model = model }
}

// Start begins a span and returns a context carrying it.
//
// The parent is the WithParent option if given, else the span on ctx, else
// none. Root spans open a new trace; children inherit the parent's trace and
// never start before their parent.
func (t *Tracer) Start(ctx context.Context, kind Kind, name string, opts ...StartOption) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	var sc startConfig
	for _, opt := range opts {
		opt(&sc)
	}

	cfg := t.config()
	parent := sc.parent
	if !sc.parentSet {
		parent = FromContext(ctx)
	}

	start := sc.start
	if start.IsZero() {
		start = cfg.Now()
	}

	s := &Span{
		tracer: t,
		id:     cfg.IDs.New(),
		kind:   kind,
		name:   name,
		model:  sc.model,
		attrs:  make(map[string]any, len(sc.attrs)+4),
	}
	switch {
	case parent != nil:
		s.parent = parent
		s.traceID = parent.traceID
		s.parentID = parent.id
		if ps := parent.startTime(); start.Before(ps) {
			start = ps
		}
	case !sc.remoteTrace.IsZero():
		s.traceID = sc.remoteTrace
		s.parentID = sc.remoteParent
	default:
		s.traceID = cfg.IDs.New()
	}
	s.start = start

	for k, v := range agentctx.Current(ctx).Attributes() {
		s.attrs[k] = v
	}
	for k, v := range sc.attrs {
		s.attrs[k] = NormalizeAttribute(v)
	}
	if sc.hasInput {
		s.SetInput(sc.input)
	}

	return ContextWithSpan(ctx, s), s
}

func (t *Tracer) config() Config {
	if t == nil {
		return nilTracerConfig
	}
	return t.cfg
}

var nilTracerConfig = Config{Now: time.Now, IDs: id.NewGenerator(nil)}

func (t *Tracer) emit(rec Record) {
	if t == nil || t.cfg.Processor == nil {
		return
	}
	t.cfg.Processor.OnEnd(rec)
}

type spanKey struct{}

// ContextWithSpan returns a context carrying s as the in-flight span.
func ContextWithSpan(ctx context.Context, s *Span) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, spanKey{}, s)
}

// FromContext returns the in-flight span, or nil.
func FromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}
