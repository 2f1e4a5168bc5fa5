// Package anthropic instruments the Anthropic Messages API.
//
//	client := anthropic.NewClient()
//	messages := instrumentanthropic.Wrap(&client.Messages, tracer)
//	msg, err := messages.New(ctx, params)
//
// Each call records a Generation span named anthropic.messages.create with
// the model, request parameters, response text, stop reason and token usage.
package anthropic

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentreplay/agentreplay-go/pkg/instrument"
	"github.com/agentreplay/agentreplay-go/pkg/logging"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

// SpanName names spans for message creation.
const SpanName = "anthropic.messages.create"

// Provider is recorded as the gen_ai.system attribute.
const Provider = "anthropic"

// MessagesAPI is the subset of *anthropic.MessageService that is wrapped.
type MessagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
	NewStreaming(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

// Option customizes Wrap.
type Option func(*Messages)

// WithoutContent records token usage and metadata but no prompts or
// completions.
func WithoutContent() Option {
	return func(m *Messages) { m.content = false }
}

// WithLogger sets the logger for instrumentation failures.
func WithLogger(l logging.StructuredLogger) Option {
	return func(m *Messages) { m.logger = l }
}

// Messages is an instrumented MessagesAPI.
type Messages struct {
	api     MessagesAPI
	tracer  *span.Tracer
	content bool
	logger  logging.StructuredLogger
}

// Wrap instruments api. Spans are started on tracer.
func Wrap(api MessagesAPI, tracer *span.Tracer, opts ...Option) *Messages {
	m := &Messages{api: api, tracer: tracer, content: true, logger: logging.NopLogger{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Messages) start(ctx context.Context, params anthropic.MessageNewParams, stream bool) (context.Context, *span.Span) {
	attrs := map[string]any{
		span.AttrSystem:            Provider,
		instrument.AttrRequestType: "chat",
		instrument.AttrMaxTokens:   params.MaxTokens,
	}
	if params.Temperature.Valid() {
		attrs[instrument.AttrTemperature] = params.Temperature.Value
	}
	if stream {
		attrs["llm.is_streaming"] = true
	}
	ctx, s := m.tracer.Start(ctx, span.KindGeneration, SpanName,
		span.WithModel(string(params.Model)),
		span.WithAttributes(attrs),
	)
	if m.content {
		instrument.Guard(m.logger, SpanName, func() error {
			input := map[string]any{"messages": params.Messages}
			if len(params.System) > 0 {
				input["system"] = params.System
			}
			s.SetInput(input)
			return nil
		})
	}
	return ctx, s
}

// New creates a message and records it. The SDK result and error are
// returned unchanged.
func (m *Messages) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	ctx, s := m.start(ctx, params, false)
	defer s.End()

	msg, err := m.api.New(ctx, params, opts...)
	if err != nil {
		s.SetError(err)
		return msg, err
	}
	instrument.Guard(m.logger, SpanName, func() error {
		m.record(s, msg)
		return nil
	})
	return msg, nil
}

// NewStreaming starts a streamed message. The span stays open until the
// returned stream is exhausted, fails or is closed.
func (m *Messages) NewStreaming(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) *instrument.Stream[anthropic.MessageStreamEventUnion] {
	ctx, s := m.start(ctx, params, true)

	var acc anthropic.Message
	return instrument.NewStream[anthropic.MessageStreamEventUnion](m.api.NewStreaming(ctx, params, opts...), s,
		instrument.StreamConfig[anthropic.MessageStreamEventUnion]{
			Accumulate: func(_ *span.Span, event anthropic.MessageStreamEventUnion) error {
				return acc.Accumulate(event)
			},
			Finish: func(s *span.Span, _ error) error {
				m.record(s, &acc)
				return nil
			},
			Logger: m.logger,
		})
}

func (m *Messages) record(s *span.Span, msg *anthropic.Message) {
	if msg == nil {
		return
	}
	if msg.Model != "" {
		s.SetModel(string(msg.Model))
	}
	if msg.ID != "" {
		s.SetAttribute("gen_ai.response.id", msg.ID)
	}
	if msg.StopReason != "" {
		s.SetAttribute(instrument.AttrFinish, string(msg.StopReason))
	}
	s.SetTokenUsage(span.TokenUsage{
		Prompt:     msg.Usage.InputTokens,
		Completion: msg.Usage.OutputTokens,
	})
	if m.content {
		s.SetOutput(map[string]any{"content": Text(msg)})
	}
}

// Text concatenates the text blocks of msg.
func Text(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
