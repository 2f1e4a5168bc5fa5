package agentreplay_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	agentreplay "github.com/agentreplay/agentreplay-go"
	"github.com/agentreplay/agentreplay-go/agentreplaytest"
	"github.com/agentreplay/agentreplay-go/pkg/config"
	"github.com/agentreplay/agentreplay-go/pkg/exporter"
	"github.com/agentreplay/agentreplay-go/pkg/ingestion"
	aropenai "github.com/agentreplay/agentreplay-go/pkg/instrument/openai"
	"github.com/agentreplay/agentreplay-go/pkg/redact"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

type recordingExporter struct {
	mu      sync.Mutex
	records []span.Record
}

func (e *recordingExporter) Export(_ context.Context, records []span.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, records...)
	return nil
}

func (e *recordingExporter) Shutdown(context.Context) error { return nil }

func (e *recordingExporter) all() []span.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]span.Record(nil), e.records...)
}

func TestClient_ExportsSpanTree(t *testing.T) {
	client, server := agentreplaytest.NewTestClient(t, agentreplay.WithProjectID(7))
	ctx := context.Background()

	ctx, root := client.Start(ctx, span.KindRoot, "agent.run")
	_, child := client.Start(ctx, span.KindToolCall, "search", span.WithInput(map[string]any{"q": "go"}))
	child.SetOutput("3 results")
	child.End()
	root.End()

	n, err := client.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	gotRoot, ok := server.SpanNamed("agent.run")
	require.True(t, ok)
	gotChild, ok := server.SpanNamed("search")
	require.True(t, ok)

	assert.True(t, gotRoot.IsRoot())
	assert.Equal(t, gotRoot.SpanID, gotChild.ParentID)
	assert.Equal(t, gotRoot.TraceID, gotChild.TraceID)
	assert.Equal(t, span.KindToolCall, gotChild.Kind)
	assert.Equal(t, "3 results", gotChild.Output)
	assert.Equal(t, int64(7), gotChild.Routing.ProjectID)
	assert.Equal(t, int64(config.DefaultTenantID), gotChild.Routing.TenantID)

	last := server.LastRequest()
	require.NotNil(t, last)
	assert.Equal(t, "Bearer test-key", last.Header.Get("Authorization"))
	assert.Contains(t, last.Header.Get("User-Agent"), agentreplay.Version)

	stats := client.Stats()
	assert.True(t, stats.Enabled)
	assert.Equal(t, int64(2), stats.SentCount)
	assert.Equal(t, int64(2), stats.Accepted)
	assert.Zero(t, stats.DroppedCount)
}

func TestClient_ContextFieldsOnSpans(t *testing.T) {
	client, server := agentreplaytest.NewTestClient(t)

	ctx := client.Activate(context.Background(), agentreplay.Fields{AgentID: "planner", SessionID: "s-1"})
	_, s := client.Start(ctx, span.KindPlanning, "plan")
	s.End()

	_, err := client.Flush(context.Background())
	require.NoError(t, err)

	rec, ok := server.SpanNamed("plan")
	require.True(t, ok)
	assert.Equal(t, "planner", rec.Attributes["agent_id"])
	assert.Equal(t, "s-1", rec.Attributes["session_id"])
}

func TestClient_RedactsBeforeExport(t *testing.T) {
	client, server := agentreplaytest.NewTestClient(t, agentreplay.WithScrubPaths("input.password"))

	_, s := client.Start(context.Background(), span.KindToolCall, "login",
		span.WithInput(map[string]any{"user": "bob", "password": "hunter2"}))
	s.SetOutput("sent to bob@example.com")
	s.End()

	_, err := client.Flush(context.Background())
	require.NoError(t, err)

	rec, ok := server.SpanNamed("login")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"user": "bob", "password": "[REDACTED]"}, rec.Input)
	assert.NotContains(t, rec.Output, "bob@example.com")
	assert.Positive(t, client.Stats().Redaction.ScrubbedPaths)
}

const chatCompletionJSON = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "message": {"role": "assistant", "content": "Noted.", "refusal": null},
    "finish_reason": "stop",
    "logprobs": null
  }],
  "usage": {"prompt_tokens": 9, "completion_tokens": 2, "total_tokens": 11}
}`

func TestClient_RedactsLLMPrompts(t *testing.T) {
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionJSON))
	}))
	t.Cleanup(llm.Close)

	client, server := agentreplaytest.NewTestClient(t)
	sdk := openaisdk.NewClient(
		option.WithBaseURL(llm.URL+"/"),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)
	completions := aropenai.Wrap(&sdk.Chat.Completions, client.Tracer())

	_, err := completions.New(context.Background(), openaisdk.ChatCompletionNewParams{
		Model: "gpt-4o-mini",
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage("mail me at alice@example.com"),
		},
	})
	require.NoError(t, err)

	_, err = client.Flush(context.Background())
	require.NoError(t, err)

	rec, ok := server.SpanNamed(aropenai.SpanName)
	require.True(t, ok)
	input, ok := rec.Input.(map[string]any)
	require.True(t, ok, "input = %#v", rec.Input)
	assert.Contains(t, fmt.Sprint(input["messages"]), "[REDACTED]")
	for _, req := range server.Requests() {
		assert.NotContains(t, string(req.Body), "alice@example.com")
	}
}

func TestClient_UnencodablePayloadKeepsBatch(t *testing.T) {
	client, server := agentreplaytest.NewTestClient(t)

	for i := range 4 {
		_, s := client.Start(context.Background(), span.KindToolCall, fmt.Sprintf("good-%d", i),
			span.WithInput(map[string]any{"i": i}))
		s.End()
	}
	_, bad := client.Start(context.Background(), span.KindToolCall, "bad",
		span.WithInput(map[string]any{"score": math.NaN(), "callback": func() {}}))
	bad.SetCost(math.Inf(1))
	bad.End()

	n, err := client.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, server.SpanCount())
	assert.Zero(t, client.Stats().DiscardedCount)

	rec, ok := server.SpanNamed("bad")
	require.True(t, ok)
	input := rec.Input.(map[string]any)
	assert.Equal(t, "NaN", input["score"])
	assert.IsType(t, "", input["callback"])
	assert.Nil(t, rec.Cost)
}

func TestClient_BoundsLargePayloads(t *testing.T) {
	client, server := agentreplaytest.NewTestClient(t, agentreplay.WithMaxPayloadSize(512))

	rows := make([]map[string]any, 200)
	for i := range rows {
		rows[i] = map[string]any{"id": i, "name": "row"}
	}
	_, s := client.Start(context.Background(), span.KindRetrieval, "query", span.WithInput(rows))
	s.End()

	_, err := client.Flush(context.Background())
	require.NoError(t, err)

	rec, ok := server.SpanNamed("query")
	require.True(t, ok)
	input, ok := rec.Input.(map[string]any)
	require.True(t, ok, "input = %#v", rec.Input)
	assert.Equal(t, true, input[redact.TruncatedKey])
	assert.NotEmpty(t, input[redact.PreviewKey])
}

func TestClient_CaptureInputDisabled(t *testing.T) {
	client, server := agentreplaytest.NewTestClient(t, agentreplay.WithCaptureInput(false))

	_, s := client.Start(context.Background(), span.KindGeneration, "llm", span.WithInput("secret prompt"))
	s.SetOutput("answer")
	s.End()

	_, err := client.Flush(context.Background())
	require.NoError(t, err)

	rec, ok := server.SpanNamed("llm")
	require.True(t, ok)
	assert.Nil(t, rec.Input)
	assert.Equal(t, "answer", rec.Output)
}

func TestClient_TransientFailureParksBatch(t *testing.T) {
	var results []ingestion.BatchResult
	var mu sync.Mutex
	client, server := agentreplaytest.NewTestClient(t, agentreplay.WithOnBatchFlushed(func(r ingestion.BatchResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, r)
	}))
	server.RespondWithServerError()

	_, s := client.Start(context.Background(), span.KindResponse, "answer")
	s.End()

	_, err := client.Flush(context.Background())
	var transient *agentreplay.TransientDeliveryError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, 1, client.Stats().RetryQueueSize)

	server.RespondWithSuccess()
	n, err := client.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats := client.Stats()
	assert.Zero(t, stats.RetryQueueSize)
	assert.Equal(t, int64(1), stats.SentCount)
	assert.Equal(t, int64(1), stats.FailedBatches)
	assert.Equal(t, 1, server.SpanCount())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 2)
	assert.True(t, results[0].Parked)
	assert.True(t, results[1].Success)
	assert.True(t, results[1].FromRetryQueue)
}

func TestClient_PermanentFailureDiscards(t *testing.T) {
	var handled []error
	client, server := agentreplaytest.NewTestClient(t, agentreplay.WithErrorHandler(func(err error) {
		handled = append(handled, err)
	}))
	server.RespondWithUnauthorized()

	_, s := client.Start(context.Background(), span.KindResponse, "answer")
	s.End()

	_, err := client.Flush(context.Background())
	var permanent *agentreplay.PermanentDeliveryError
	require.ErrorAs(t, err, &permanent)

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.DiscardedCount)
	assert.Zero(t, stats.RetryQueueSize)
	assert.Len(t, handled, 1)
}

func TestClient_DropsOldestWhenFull(t *testing.T) {
	client, server := agentreplaytest.NewTestClient(t, agentreplay.WithMaxQueueSize(2))

	for _, name := range []string{"first", "second", "third"} {
		_, s := client.Start(context.Background(), span.KindFunction, name)
		s.End()
	}
	assert.Equal(t, int64(1), client.Stats().DroppedCount)

	_, err := client.Flush(context.Background())
	require.NoError(t, err)

	var names []string
	for _, rec := range server.Spans() {
		names = append(names, rec.Name)
	}
	assert.Equal(t, []string{"second", "third"}, names)
}

func TestClient_Disabled(t *testing.T) {
	client, server := agentreplaytest.NewTestClient(t, agentreplay.WithEnabled(false))

	_, s := client.Start(context.Background(), span.KindRoot, "ignored")
	s.End()

	n, err := client.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, client.Enabled())
	assert.Zero(t, server.RequestCount())
	assert.NoError(t, client.Shutdown(context.Background()))
}

func TestNew_StrictRejectsMissingAPIKey(t *testing.T) {
	_, err := agentreplay.NewWithConfig(&config.Config{URL: "http://localhost:1", Strict: true})

	var cfgErr *agentreplay.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, agentreplay.ErrMissingAPIKey)
}

func TestNew_InvalidConfigDisablesClient(t *testing.T) {
	client, err := agentreplay.NewWithConfig(&config.Config{URL: "not a url"}, agentreplay.WithExitHook(false))
	require.NoError(t, err)
	defer client.Shutdown(context.Background())

	assert.False(t, client.Enabled())
	assert.Error(t, client.Stats().ConfigError)

	_, s := client.Start(context.Background(), span.KindRoot, "still works")
	s.SetAttribute("k", 1)
	s.End()
	assert.True(t, s.IsEnded())
}

func TestNew_MalformedRedactPatternFails(t *testing.T) {
	_, err := agentreplay.NewWithConfig(&config.Config{URL: "http://localhost:1"},
		agentreplay.WithRedactPatterns("(unclosed"), agentreplay.WithExitHook(false))

	var redErr *agentreplay.RedactionConfigError
	assert.ErrorAs(t, err, &redErr)
}

func TestClient_ShutdownIdempotentAndConcurrent(t *testing.T) {
	client, server := agentreplaytest.NewTestClient(t)

	_, s := client.Start(context.Background(), span.KindRoot, "last")
	s.End()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Shutdown(context.Background())
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, server.SpanCount())

	// Spans ended after shutdown are counted, not sent.
	_, late := client.Start(context.Background(), span.KindRoot, "late")
	late.End()
	n, err := client.Flush(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)

	stats := client.Stats()
	assert.True(t, stats.Closed)
	assert.Equal(t, int64(1), stats.DroppedCount)
	assert.Equal(t, 1, server.SpanCount())
}

func TestClient_ShutdownReportsAbandonedSpans(t *testing.T) {
	client, server := agentreplaytest.NewTestClient(t)
	server.RespondWithServerError()

	_, s := client.Start(context.Background(), span.KindRoot, "doomed")
	s.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := client.Shutdown(ctx)

	var shutdownErr *agentreplay.ShutdownError
	require.ErrorAs(t, err, &shutdownErr)
	assert.Equal(t, 1, shutdownErr.PendingSpans)
	assert.Equal(t, int64(1), client.Stats().DroppedCount)

	// Later calls return the first result.
	assert.Equal(t, err, client.Shutdown(context.Background()))
}

func TestClient_ConcurrentFlush(t *testing.T) {
	client, server := agentreplaytest.NewTestClient(t)

	for range 50 {
		_, s := client.Start(context.Background(), span.KindFunction, "work")
		s.End()
	}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = client.Flush(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, server.SpanCount())
	assert.Equal(t, int64(50), client.Stats().SentCount)
}

func TestClient_FlushSurvivesOtherCallersCancel(t *testing.T) {
	client, server := agentreplaytest.NewTestClient(t)

	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	server.SetResponseFunc(func(*http.Request) (int, any) {
		arrived <- struct{}{}
		<-release
		return http.StatusOK, exporter.IngestResponse{Accepted: 1}
	})

	_, s := client.Start(context.Background(), span.KindFunction, "slow")
	s.End()

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := client.Flush(ctxA)
		errA <- err
	}()
	<-arrived

	type result struct {
		n   int
		err error
	}
	resB := make(chan result, 1)
	go func() {
		n, err := client.Flush(context.Background())
		resB <- result{n, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	got := <-resB
	require.NoError(t, got.err)
	assert.Equal(t, 1, server.SpanCount())
	assert.Zero(t, client.Stats().DroppedCount)
}

func TestClient_Ping(t *testing.T) {
	client, server := agentreplaytest.NewTestClient(t)

	res := client.Ping(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, agentreplaytest.ServerVersion, res.Version)

	server.RespondWithUnauthorized()
	res = client.Ping(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, 401, res.StatusCode)
	assert.NotEmpty(t, res.Error)
}

func TestClient_Metrics(t *testing.T) {
	m := agentreplaytest.NewMockMetrics()
	client, _ := agentreplaytest.NewTestClient(t, agentreplay.WithMetrics(m))

	_, s := client.Start(context.Background(), span.KindRoot, "measured")
	s.End()
	_, err := client.Flush(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), m.Counter("agentreplay.spans.inserted"))
	assert.Equal(t, int64(1), m.Counter("agentreplay.spans.sent"))
	assert.Equal(t, int64(1), m.Counter("agentreplay.batches.sent"))
}

func TestClient_AdditionalExporter(t *testing.T) {
	extra := &recordingExporter{}
	client, server := agentreplaytest.NewTestClient(t, agentreplay.WithAdditionalExporter(extra))

	_, s := client.Start(context.Background(), span.KindRoot, "fanout")
	s.End()
	_, err := client.Flush(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, server.SpanCount())
	require.Len(t, extra.all(), 1)
	assert.Equal(t, "fanout", extra.all()[0].Name)
}

func TestClient_OTLPExporter(t *testing.T) {
	mem := tracetest.NewInMemoryExporter()
	otlp, err := exporter.NewOTLPExporter(context.Background(), exporter.OTLPConfig{
		SpanExporter: mem,
		ServiceName:  "otlp-test",
	})
	require.NoError(t, err)

	client, err := agentreplay.NewWithConfig(&config.Config{URL: "http://localhost:1"},
		agentreplay.WithExporter(otlp), agentreplay.WithExitHook(false))
	require.NoError(t, err)

	ctx, root := client.Start(context.Background(), span.KindRoot, "otel.root")
	_, child := client.Start(ctx, span.KindGeneration, "otel.child", span.WithModel("gpt-4o"))
	child.AddEvent("tool_selected", map[string]any{"tool": "search"})
	child.End()
	root.End()

	_, err = client.Flush(context.Background())
	require.NoError(t, err)

	stubs := mem.GetSpans()
	require.Len(t, stubs, 2)
	byName := map[string]tracetest.SpanStub{}
	for _, s := range stubs {
		byName[s.Name] = s
	}
	assert.Equal(t, byName["otel.root"].SpanContext.SpanID(), byName["otel.child"].Parent.SpanID())
	events := byName["otel.child"].Events
	require.Len(t, events, 1)
	assert.Equal(t, "tool_selected", events[0].Name)
	assert.Contains(t, events[0].Attributes, attribute.String("tool", "search"))

	res := client.Ping(context.Background())
	assert.False(t, res.Success)

	require.NoError(t, client.Shutdown(context.Background()))
}

func TestClient_LoggerReceivesDeliveryWarnings(t *testing.T) {
	logger := agentreplaytest.NewMockLogger()
	client, server := agentreplaytest.NewTestClient(t, agentreplay.WithLogger(logger))
	server.RespondWithServerError()

	_, s := client.Start(context.Background(), span.KindRoot, "x")
	s.End()
	_, err := client.Flush(context.Background())
	require.Error(t, err)

	assert.True(t, logger.Contains("WARN", "keeping for retry"))
	assert.False(t, errors.Is(err, agentreplay.ErrClientClosed))
}
