package instrument

import (
	"context"
	"strings"

	"github.com/agentreplay/agentreplay-go/pkg/logging"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

// Attribute keys set by CallbackHandler.
const (
	AttrOperation   = "gen_ai.operation.name"
	AttrTemperature = "gen_ai.request.temperature"
	AttrMaxTokens   = "gen_ai.request.max_tokens"
	AttrFinish      = "llm.response.finish_reason"
	AttrRequestType = "llm.request.type"
	AttrToolName    = "tool.name"
	AttrRetriever   = "retriever.name"
	AttrDocuments   = "retriever.documents"
)

// DetectProvider guesses the provider from a model name: openai, anthropic,
// cohere or unknown.
func DetectProvider(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "openai"), strings.Contains(m, "gpt"):
		return "openai"
	case strings.Contains(m, "anthropic"), strings.Contains(m, "claude"):
		return "anthropic"
	case strings.Contains(m, "cohere"):
		return "cohere"
	default:
		return "unknown"
	}
}

// LLMRequest describes a model invocation reported by a framework.
type LLMRequest struct {
	Model       string
	Prompts     []string
	Temperature *float64
	MaxTokens   int64
}

// LLMResult describes a finished model invocation.
type LLMResult struct {
	Generations  []string
	FinishReason string
	Usage        span.TokenUsage
}

// CallbackHandler turns framework lifecycle callbacks into spans. Chains,
// model calls, tools and retrievers are each tracked by run ID; a run whose
// parent run is still open becomes its child.
//
// Every method is safe to call from framework code: failures are recovered
// and logged, never returned.
type CallbackHandler struct {
	runs   *RunTracker
	logger logging.StructuredLogger
}

// NewCallbackHandler returns a handler starting spans on tracer.
func NewCallbackHandler(tracer *span.Tracer, logger logging.StructuredLogger) *CallbackHandler {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &CallbackHandler{runs: NewRunTracker(tracer), logger: logger}
}

// Runs exposes the underlying tracker.
func (h *CallbackHandler) Runs() *RunTracker { return h.runs }

// OnChainStart opens a chain span.
func (h *CallbackHandler) OnChainStart(ctx context.Context, runID, parentRunID, name string, inputs map[string]any) {
	Guard(h.logger, "callback.chain_start", func() error {
		_, s := h.runs.start(ctx, runID, parentRunID, span.KindPlanning, name, nil)
		if s != nil && inputs != nil {
			s.SetInput(inputs)
		}
		return nil
	})
}

// OnChainEnd closes a chain span.
func (h *CallbackHandler) OnChainEnd(runID string, outputs map[string]any) {
	Guard(h.logger, "callback.chain_end", func() error {
		h.runs.End(runID, nonNilMap(outputs), span.TokenUsage{})
		return nil
	})
}

// OnChainError closes a chain span as failed.
func (h *CallbackHandler) OnChainError(runID string, err error) {
	h.fail("callback.chain_error", runID, err)
}

// OnLLMStart opens a generation span named after the model.
func (h *CallbackHandler) OnLLMStart(ctx context.Context, runID, parentRunID string, req LLMRequest) {
	Guard(h.logger, "callback.llm_start", func() error {
		attrs := map[string]any{
			span.AttrSystem: DetectProvider(req.Model),
			AttrOperation:   "completion",
		}
		if req.Temperature != nil {
			attrs[AttrTemperature] = *req.Temperature
		}
		if req.MaxTokens > 0 {
			attrs[AttrMaxTokens] = req.MaxTokens
		}
		_, s := h.runs.start(ctx, runID, parentRunID, span.KindGeneration, "llm."+req.Model, attrs)
		if s == nil {
			return nil
		}
		s.SetModel(req.Model)
		if len(req.Prompts) > 0 {
			msgs := make([]map[string]string, len(req.Prompts))
			for i, p := range req.Prompts {
				msgs[i] = map[string]string{"role": "user", "content": p}
			}
			s.SetInput(map[string]any{"messages": msgs})
		}
		return nil
	})
}

// OnLLMEnd closes a generation span with its completions and usage.
func (h *CallbackHandler) OnLLMEnd(runID string, res LLMResult) {
	Guard(h.logger, "callback.llm_end", func() error {
		if s := h.runs.Span(runID); s != nil && res.FinishReason != "" {
			s.SetAttribute(AttrFinish, res.FinishReason)
		}
		var out any
		if len(res.Generations) > 0 {
			out = map[string]any{"completions": res.Generations}
		}
		h.runs.End(runID, out, res.Usage)
		return nil
	})
}

// OnLLMError closes a generation span as failed.
func (h *CallbackHandler) OnLLMError(runID string, err error) {
	h.fail("callback.llm_error", runID, err)
}

// OnToolStart opens a tool call span.
func (h *CallbackHandler) OnToolStart(ctx context.Context, runID, parentRunID, tool string, input any) {
	Guard(h.logger, "callback.tool_start", func() error {
		_, s := h.runs.start(ctx, runID, parentRunID, span.KindToolCall, tool, map[string]any{AttrToolName: tool})
		if s != nil && input != nil {
			s.SetInput(input)
		}
		return nil
	})
}

// OnToolEnd closes a tool call span.
func (h *CallbackHandler) OnToolEnd(runID string, output any) {
	Guard(h.logger, "callback.tool_end", func() error {
		h.runs.End(runID, output, span.TokenUsage{})
		return nil
	})
}

// OnToolError closes a tool call span as failed.
func (h *CallbackHandler) OnToolError(runID string, err error) {
	h.fail("callback.tool_error", runID, err)
}

// OnRetrieverStart opens a retrieval span.
func (h *CallbackHandler) OnRetrieverStart(ctx context.Context, runID, parentRunID, retriever, query string) {
	Guard(h.logger, "callback.retriever_start", func() error {
		_, s := h.runs.start(ctx, runID, parentRunID, span.KindRetrieval, retriever, map[string]any{AttrRetriever: retriever})
		if s != nil {
			s.SetInput(map[string]any{"query": query})
		}
		return nil
	})
}

// OnRetrieverEnd closes a retrieval span with the returned documents.
func (h *CallbackHandler) OnRetrieverEnd(runID string, documents []string) {
	Guard(h.logger, "callback.retriever_end", func() error {
		if s := h.runs.Span(runID); s != nil {
			s.SetAttribute(AttrDocuments, int64(len(documents)))
		}
		h.runs.End(runID, map[string]any{"documents": documents}, span.TokenUsage{})
		return nil
	})
}

// OnRetrieverError closes a retrieval span as failed.
func (h *CallbackHandler) OnRetrieverError(runID string, err error) {
	h.fail("callback.retriever_error", runID, err)
}

func (h *CallbackHandler) fail(op, runID string, err error) {
	Guard(h.logger, op, func() error {
		h.runs.Fail(runID, err)
		return nil
	})
}

func nonNilMap(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}
