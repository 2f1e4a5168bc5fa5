package exporter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	pkgerrors "github.com/agentreplay/agentreplay-go/pkg/errors"
	"github.com/agentreplay/agentreplay-go/pkg/id"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

// ScopeName is the instrumentation scope attached to exported spans.
const ScopeName = "github.com/agentreplay/agentreplay-go"

// OTLPConfig configures an OTLPExporter.
type OTLPConfig struct {
	// Endpoint is a URL ("http://collector:4318") or a host:port.
	Endpoint string
	Insecure bool
	Headers  map[string]string
	Timeout  time.Duration

	ServiceName    string
	ServiceVersion string
	Environment    string

	// SpanExporter replaces the OTLP HTTP client. Used in tests.
	SpanExporter sdktrace.SpanExporter
}

// OTLPExporter converts records to OpenTelemetry spans and exports them over
// OTLP/HTTP. Trace ids are kept; span ids keep their low 64 bits.
type OTLPExporter struct {
	exporter sdktrace.SpanExporter
	resource *resource.Resource
	scope    instrumentation.Scope
}

// NewOTLPExporter builds the OTLP client. No connection is made until the
// first export.
func NewOTLPExporter(ctx context.Context, cfg OTLPConfig) (*OTLPExporter, error) {
	exp := cfg.SpanExporter
	if exp == nil {
		if cfg.Endpoint == "" {
			return nil, pkgerrors.NewConfigurationError("otlp_endpoint", "OTLP endpoint is required", nil)
		}
		var opts []otlptracehttp.Option
		if strings.Contains(cfg.Endpoint, "://") {
			opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(cfg.Timeout))
		}
		// Retries belong to the processor.
		opts = append(opts, otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}))

		var err error
		exp, err = otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("agentreplay: create OTLP exporter: %w", err)
		}
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(orDefault(cfg.ServiceName, "agentreplay-app"))}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}

	return &OTLPExporter{
		exporter: exp,
		resource: resource.NewWithAttributes(semconv.SchemaURL, attrs...),
		scope:    instrumentation.Scope{Name: ScopeName},
	}, nil
}

// Export implements Exporter.
func (e *OTLPExporter) Export(ctx context.Context, records []span.Record) error {
	if len(records) == 0 {
		return nil
	}
	spans := make([]sdktrace.ReadOnlySpan, len(records))
	for i, rec := range records {
		spans[i] = e.convert(rec).Snapshot()
	}
	return e.exporter.ExportSpans(ctx, spans)
}

// Shutdown flushes and closes the OTLP client.
func (e *OTLPExporter) Shutdown(ctx context.Context) error {
	return e.exporter.Shutdown(ctx)
}

func (e *OTLPExporter) convert(rec span.Record) tracetest.SpanStub {
	traceID := trace.TraceID(rec.TraceID)
	stub := tracetest.SpanStub{
		Name: rec.Name,
		SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     otelSpanID(rec.SpanID),
			TraceFlags: trace.FlagsSampled,
		}),
		SpanKind:             otelKind(rec.Kind),
		StartTime:            rec.StartTime,
		EndTime:              rec.EndTime,
		Resource:             e.resource,
		InstrumentationScope: e.scope,
	}
	if !rec.IsRoot() {
		stub.Parent = trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     otelSpanID(rec.ParentID),
			TraceFlags: trace.FlagsSampled,
		})
	}

	wire := rec.WireAttributes()
	stub.Attributes = make([]attribute.KeyValue, 0, len(wire))
	for k, v := range wire {
		stub.Attributes = append(stub.Attributes, attribute.String(k, v))
	}
	if rec.Input != nil {
		stub.Attributes = append(stub.Attributes, attribute.String("input", span.FormatAttribute(rec.Input)))
	}
	if rec.Output != nil {
		stub.Attributes = append(stub.Attributes, attribute.String("output", span.FormatAttribute(rec.Output)))
	}

	for _, ev := range rec.Events {
		attrs := make([]attribute.KeyValue, 0, len(ev.Attributes))
		for k, v := range ev.Attributes {
			attrs = append(attrs, otelAttribute(k, v))
		}
		stub.Events = append(stub.Events, sdktrace.Event{Name: ev.Name, Time: ev.Time, Attributes: attrs})
	}

	if rec.Status == span.StatusError {
		stub.Status = sdktrace.Status{Code: codes.Error, Description: rec.StatusMessage}
	} else {
		stub.Status = sdktrace.Status{Code: codes.Ok}
	}
	return stub
}

func otelAttribute(k string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(k, val)
	case bool:
		return attribute.Bool(k, val)
	case int64:
		return attribute.Int64(k, val)
	case float64:
		return attribute.Float64(k, val)
	default:
		return attribute.String(k, span.FormatAttribute(val))
	}
}

func otelSpanID(v id.ID) trace.SpanID {
	var sid trace.SpanID
	copy(sid[:], v[8:])
	return sid
}

func otelKind(k span.Kind) trace.SpanKind {
	switch k {
	case span.KindHTTPCall, span.KindToolCall, span.KindGeneration:
		return trace.SpanKindClient
	case span.KindRoot:
		return trace.SpanKindServer
	default:
		return trace.SpanKindInternal
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
