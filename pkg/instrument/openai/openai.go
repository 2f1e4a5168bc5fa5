// Package openai instruments the OpenAI Chat Completions API.
//
//	client := openai.NewClient()
//	completions := instrumentopenai.Wrap(&client.Chat.Completions, tracer)
//	resp, err := completions.New(ctx, params)
package openai

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/agentreplay/agentreplay-go/pkg/instrument"
	"github.com/agentreplay/agentreplay-go/pkg/logging"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

// SpanName names spans for chat completions.
const SpanName = "openai.chat.completions.create"

// Provider is recorded as the gen_ai.system attribute.
const Provider = "openai"

// ChatCompletionsAPI is the subset of *openai.ChatCompletionService that is
// wrapped.
type ChatCompletionsAPI interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Option customizes Wrap.
type Option func(*ChatCompletions)

// WithoutContent records usage and metadata but no messages.
func WithoutContent() Option {
	return func(c *ChatCompletions) { c.content = false }
}

// WithLogger sets the logger for instrumentation failures.
func WithLogger(l logging.StructuredLogger) Option {
	return func(c *ChatCompletions) { c.logger = l }
}

// ChatCompletions is an instrumented ChatCompletionsAPI.
type ChatCompletions struct {
	api     ChatCompletionsAPI
	tracer  *span.Tracer
	content bool
	logger  logging.StructuredLogger
}

// Wrap instruments api. Spans are started on tracer.
func Wrap(api ChatCompletionsAPI, tracer *span.Tracer, opts ...Option) *ChatCompletions {
	c := &ChatCompletions{api: api, tracer: tracer, content: true, logger: logging.NopLogger{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ChatCompletions) start(ctx context.Context, params openai.ChatCompletionNewParams, stream bool) (context.Context, *span.Span) {
	attrs := map[string]any{
		span.AttrSystem:            Provider,
		instrument.AttrRequestType: "chat",
	}
	switch {
	case params.MaxCompletionTokens.Valid():
		attrs[instrument.AttrMaxTokens] = params.MaxCompletionTokens.Value
	case params.MaxTokens.Valid():
		attrs[instrument.AttrMaxTokens] = params.MaxTokens.Value
	}
	if params.Temperature.Valid() {
		attrs[instrument.AttrTemperature] = params.Temperature.Value
	}
	if stream {
		attrs["llm.is_streaming"] = true
	}
	ctx, s := c.tracer.Start(ctx, span.KindGeneration, SpanName,
		span.WithModel(string(params.Model)),
		span.WithAttributes(attrs),
	)
	if c.content {
		s.SetInput(map[string]any{"messages": params.Messages})
	}
	return ctx, s
}

// New creates a chat completion and records it. The SDK result and error
// are returned unchanged.
func (c *ChatCompletions) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	ctx, s := c.start(ctx, params, false)
	defer s.End()

	resp, err := c.api.New(ctx, params, opts...)
	if err != nil {
		s.SetError(err)
		return resp, err
	}
	instrument.Guard(c.logger, SpanName, func() error {
		c.record(s, resp)
		return nil
	})
	return resp, nil
}

// NewStreaming starts a streamed chat completion. The span stays open until
// the returned stream is exhausted, fails or is closed. Usage is only
// reported when the request sets stream_options.include_usage.
func (c *ChatCompletions) NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *instrument.Stream[openai.ChatCompletionChunk] {
	ctx, s := c.start(ctx, params, true)

	var acc openai.ChatCompletionAccumulator
	return instrument.NewStream[openai.ChatCompletionChunk](c.api.NewStreaming(ctx, params, opts...), s,
		instrument.StreamConfig[openai.ChatCompletionChunk]{
			Accumulate: func(_ *span.Span, chunk openai.ChatCompletionChunk) error {
				acc.AddChunk(chunk)
				return nil
			},
			Finish: func(s *span.Span, _ error) error {
				c.record(s, &acc.ChatCompletion)
				return nil
			},
			Logger: c.logger,
		})
}

func (c *ChatCompletions) record(s *span.Span, resp *openai.ChatCompletion) {
	if resp == nil {
		return
	}
	if resp.Model != "" {
		s.SetModel(resp.Model)
	}
	if resp.ID != "" {
		s.SetAttribute("gen_ai.response.id", resp.ID)
	}
	s.SetTokenUsage(span.TokenUsage{
		Prompt:     resp.Usage.PromptTokens,
		Completion: resp.Usage.CompletionTokens,
		Total:      resp.Usage.TotalTokens,
	})
	if len(resp.Choices) == 0 {
		return
	}
	choice := resp.Choices[0]
	if choice.FinishReason != "" {
		s.SetAttribute(instrument.AttrFinish, choice.FinishReason)
	}
	if c.content {
		s.SetOutput(map[string]any{"content": choice.Message.Content})
	}
}
