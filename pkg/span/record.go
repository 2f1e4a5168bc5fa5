package span

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/agentreplay/agentreplay-go/pkg/agentctx"
	"github.com/agentreplay/agentreplay-go/pkg/id"
)

// Attribute keys written to the wire attribute map. The ingestion server
// reads routing, kind and token accounting from these keys.
const (
	AttrSpanType         = "span_type"
	AttrSpanKind         = "span_kind"
	AttrTenantID         = "tenant_id"
	AttrProjectID        = "project_id"
	AttrEnvironment      = "environment"
	AttrServiceName      = "service.name"
	AttrStatus           = "status"
	AttrErrorType        = "error.type"
	AttrErrorMessage     = "error.message"
	AttrModel            = "gen_ai.request.model"
	AttrSystem           = "gen_ai.system"
	AttrInputTokens      = "gen_ai.usage.input_tokens"
	AttrOutputTokens     = "gen_ai.usage.output_tokens"
	AttrPromptTokens     = "gen_ai.usage.prompt_tokens"
	AttrCompletionTokens = "gen_ai.usage.completion_tokens"
	AttrTotalTokens      = "gen_ai.usage.total_tokens"
	AttrCost             = "gen_ai.usage.cost"
	AttrTokenCount       = "token_count"
)

// TokenUsage counts model tokens.
type TokenUsage struct {
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
	Total      int64 `json:"total"`
}

// IsZero reports whether no tokens were recorded.
func (u TokenUsage) IsZero() bool {
	return u == TokenUsage{}
}

// Normalize fills Total from the parts when it is unset.
func (u TokenUsage) Normalize() TokenUsage {
	if u.Total == 0 {
		u.Total = u.Prompt + u.Completion
	}
	return u
}

// Routing identifies where a span is stored on the server. It is stamped on
// records by the delivery pipeline.
type Routing struct {
	TenantID    int64
	ProjectID   int64
	AgentID     int64
	Environment string
	ServiceName string
}

// Record is the immutable form of an ended span, handed to the processor
// exactly once.
type Record struct {
	SpanID        id.ID
	TraceID       id.ID
	ParentID      id.ID
	Name          string
	Kind          Kind
	StartTime     time.Time
	EndTime       time.Time
	Input         any
	Output        any
	Model         string
	Usage         TokenUsage
	Cost          *float64
	Attributes    map[string]any
	Events        []Event
	Status        Status
	StatusMessage string
	Routing       Routing
}

// IsRoot reports whether the record has no parent.
func (r Record) IsRoot() bool {
	return r.ParentID.IsZero()
}

// Duration returns EndTime - StartTime.
func (r Record) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

type wireRecord struct {
	SpanID       string            `json:"span_id"`
	TraceID      string            `json:"trace_id"`
	ParentSpanID *string           `json:"parent_span_id,omitempty"`
	Name         string            `json:"name"`
	Kind         Kind              `json:"kind"`
	KindCode     int               `json:"kind_code"`
	StartTime    int64             `json:"start_time"`
	EndTime      int64             `json:"end_time"`
	DurationUS   int64             `json:"duration_us"`
	Input        any               `json:"input,omitempty"`
	Output       any               `json:"output,omitempty"`
	Model        string            `json:"model,omitempty"`
	TokenUsage   *TokenUsage       `json:"token_usage,omitempty"`
	Cost         *float64          `json:"cost,omitempty"`
	Status       Status            `json:"status"`
	TenantID     int64             `json:"tenant_id"`
	ProjectID    int64             `json:"project_id"`
	AgentID      int64             `json:"agent_id"`
	Attributes   map[string]string `json:"attributes"`
	Events       []wireEvent       `json:"events,omitempty"`
}

type wireEvent struct {
	Name       string            `json:"name"`
	Timestamp  int64             `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// MarshalJSON encodes the ingestion wire form. Timestamps are microseconds
// since the Unix epoch and attributes are flattened to strings.
func (r Record) MarshalJSON() ([]byte, error) {
	w := wireRecord{
		SpanID:     r.SpanID.String(),
		TraceID:    r.TraceID.String(),
		Name:       r.Name,
		Kind:       r.Kind,
		KindCode:   r.Kind.Code(),
		StartTime:  r.StartTime.UnixMicro(),
		EndTime:    r.EndTime.UnixMicro(),
		Input:      r.Input,
		Output:     r.Output,
		Model:      r.Model,
		Cost:       r.Cost,
		Status:     r.Status,
		TenantID:   r.Routing.TenantID,
		ProjectID:  r.Routing.ProjectID,
		AgentID:    r.Routing.AgentID,
		Attributes: r.WireAttributes(),
	}
	w.DurationUS = w.EndTime - w.StartTime
	for _, ev := range r.Events {
		we := wireEvent{Name: ev.Name, Timestamp: ev.Time.UnixMicro()}
		if len(ev.Attributes) > 0 {
			we.Attributes = make(map[string]string, len(ev.Attributes))
			for k, v := range ev.Attributes {
				we.Attributes[k] = FormatAttribute(v)
			}
		}
		w.Events = append(w.Events, we)
	}
	if !r.ParentID.IsZero() {
		p := r.ParentID.String()
		w.ParentSpanID = &p
	}
	if !r.Usage.IsZero() {
		u := r.Usage.Normalize()
		w.TokenUsage = &u
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form. Attribute values decode as strings.
func (r *Record) UnmarshalJSON(b []byte) error {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := Record{
		Name:      w.Name,
		Kind:      w.Kind,
		StartTime: time.UnixMicro(w.StartTime),
		EndTime:   time.UnixMicro(w.EndTime),
		Input:     w.Input,
		Output:    w.Output,
		Model:     w.Model,
		Cost:      w.Cost,
		Status:    w.Status,
		Routing: Routing{
			TenantID:    w.TenantID,
			ProjectID:   w.ProjectID,
			AgentID:     w.AgentID,
			Environment: w.Attributes[AttrEnvironment],
			ServiceName: w.Attributes[AttrServiceName],
		},
	}
	var err error
	if out.SpanID, err = id.Parse(w.SpanID); err != nil {
		return fmt.Errorf("span_id: %w", err)
	}
	if out.TraceID, err = id.Parse(w.TraceID); err != nil {
		return fmt.Errorf("trace_id: %w", err)
	}
	if w.ParentSpanID != nil {
		if out.ParentID, err = id.Parse(*w.ParentSpanID); err != nil {
			return fmt.Errorf("parent_span_id: %w", err)
		}
	}
	if w.TokenUsage != nil {
		out.Usage = *w.TokenUsage
	}
	for _, we := range w.Events {
		ev := Event{Name: we.Name, Time: time.UnixMicro(we.Timestamp)}
		if len(we.Attributes) > 0 {
			ev.Attributes = make(map[string]any, len(we.Attributes))
			for k, v := range we.Attributes {
				ev.Attributes[k] = v
			}
		}
		out.Events = append(out.Events, ev)
	}
	if len(w.Attributes) > 0 {
		out.Attributes = make(map[string]any, len(w.Attributes))
		for k, v := range w.Attributes {
			out.Attributes[k] = v
		}
		out.StatusMessage = w.Attributes[AttrErrorMessage]
	}
	*r = out
	return nil
}

// WireAttributes returns the string attribute map sent to the server: the
// span's own attributes plus kind, routing, model and token accounting.
func (r Record) WireAttributes() map[string]string {
	attrs := make(map[string]string, len(r.Attributes)+12)
	for k, v := range r.Attributes {
		attrs[k] = FormatAttribute(v)
	}

	attrs[AttrSpanType] = strconv.Itoa(r.Kind.Code())
	attrs[AttrSpanKind] = r.Kind.String()
	attrs[AttrStatus] = r.Status.String()
	attrs[AttrTenantID] = strconv.FormatInt(r.Routing.TenantID, 10)
	attrs[AttrProjectID] = strconv.FormatInt(r.Routing.ProjectID, 10)
	// A context agent id is more specific than the configured one.
	if _, ok := attrs[agentctx.AttrAgentID]; !ok {
		attrs[agentctx.AttrAgentID] = strconv.FormatInt(r.Routing.AgentID, 10)
	}
	if r.Routing.Environment != "" {
		attrs[AttrEnvironment] = r.Routing.Environment
	}
	if r.Routing.ServiceName != "" {
		attrs[AttrServiceName] = r.Routing.ServiceName
	}
	if r.Model != "" {
		attrs[AttrModel] = r.Model
	}
	if r.StatusMessage != "" {
		attrs[AttrErrorMessage] = r.StatusMessage
	}
	if !r.Usage.IsZero() {
		u := r.Usage.Normalize()
		attrs[AttrInputTokens] = strconv.FormatInt(u.Prompt, 10)
		attrs[AttrOutputTokens] = strconv.FormatInt(u.Completion, 10)
		attrs[AttrPromptTokens] = attrs[AttrInputTokens]
		attrs[AttrCompletionTokens] = attrs[AttrOutputTokens]
		attrs[AttrTotalTokens] = strconv.FormatInt(u.Total, 10)
		attrs[AttrTokenCount] = attrs[AttrTotalTokens]
	}
	if r.Cost != nil {
		attrs[AttrCost] = strconv.FormatFloat(*r.Cost, 'f', -1, 64)
	}
	return attrs
}

// WithRouting returns a copy of r stamped with routing keys. The attribute
// map is copied so the original record is not shared.
func (r Record) WithRouting(rt Routing) Record {
	r.Routing = rt
	r.Attributes = maps.Clone(r.Attributes)
	return r
}

// FormatAttribute renders an attribute value as the server expects it.
func FormatAttribute(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		if b, err := json.Marshal(val); err == nil {
			return string(b)
		}
		return fmt.Sprint(val)
	}
}

// NormalizeAttribute converts v to string, int64, float64 or bool.
// Other types are rendered with FormatAttribute.
func NormalizeAttribute(v any) any {
	switch val := v.(type) {
	case string, bool, int64, float64:
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val)
	case float32:
		return float64(val)
	case time.Duration:
		return val.String()
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	default:
		return FormatAttribute(val)
	}
}
