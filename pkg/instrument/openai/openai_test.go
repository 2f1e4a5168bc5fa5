package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentreplay/agentreplay-go/pkg/instrument"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

type recorder struct {
	mu      sync.Mutex
	records []span.Record
}

func (r *recorder) OnEnd(rec span.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recorder) all() []span.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]span.Record(nil), r.records...)
}

const completionJSON = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "message": {"role": "assistant", "content": "Hi!", "refusal": null},
    "finish_reason": "stop",
    "logprobs": null
  }],
  "usage": {"prompt_tokens": 8, "completion_tokens": 2, "total_tokens": 10}
}`

var streamChunks = []string{
	`{"id":"chatcmpl-2","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"},"finish_reason":null}]}`,
	`{"id":"chatcmpl-2","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"lo!"},"finish_reason":"stop"}]}`,
	`{"id":"chatcmpl-2","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		if !body.Stream {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(completionJSON))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, data := range streamChunks {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(srv *httptest.Server) openai.Client {
	return openai.NewClient(
		option.WithBaseURL(srv.URL+"/"),
		option.WithAPIKey("test-key"),
		option.WithMaxRetries(0),
	)
}

func params() openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model: "gpt-4o-mini",
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("Hello"),
		},
		MaxCompletionTokens: openai.Int(32),
		Temperature:         openai.Float(0.5),
	}
}

func TestChatCompletions_New(t *testing.T) {
	client := newClient(newServer(t))
	rec := &recorder{}
	completions := Wrap(&client.Chat.Completions, span.NewTracer(span.Config{Processor: rec}))

	resp, err := completions.New(context.Background(), params())
	require.NoError(t, err)
	assert.Equal(t, "Hi!", resp.Choices[0].Message.Content)

	records := rec.all()
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, SpanName, r.Name)
	assert.Equal(t, span.KindGeneration, r.Kind)
	assert.Equal(t, "gpt-4o-mini", r.Model)
	assert.Equal(t, Provider, r.Attributes[span.AttrSystem])
	assert.Equal(t, int64(32), r.Attributes[instrument.AttrMaxTokens])
	assert.Equal(t, 0.5, r.Attributes[instrument.AttrTemperature])
	assert.Equal(t, "stop", r.Attributes[instrument.AttrFinish])
	assert.Equal(t, span.TokenUsage{Prompt: 8, Completion: 2, Total: 10}, r.Usage)
	assert.Equal(t, map[string]any{"content": "Hi!"}, r.Output)
}

func TestChatCompletions_NewStreaming(t *testing.T) {
	client := newClient(newServer(t))
	rec := &recorder{}
	completions := Wrap(&client.Chat.Completions, span.NewTracer(span.Config{Processor: rec}))

	stream := completions.NewStreaming(context.Background(), params())
	chunks := 0
	for stream.Next() {
		chunks++
	}
	require.NoError(t, stream.Err())
	require.NoError(t, stream.Close())
	assert.Equal(t, len(streamChunks), chunks)

	records := rec.all()
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, map[string]any{"content": "Hello!"}, r.Output)
	assert.Equal(t, span.TokenUsage{Prompt: 5, Completion: 2, Total: 7}, r.Usage)
	assert.Equal(t, "stop", r.Attributes[instrument.AttrFinish])
	assert.Equal(t, "chatcmpl-2", r.Attributes["gen_ai.response.id"])
}

type failingAPI struct{ err error }

func (f failingAPI) New(context.Context, openai.ChatCompletionNewParams, ...option.RequestOption) (*openai.ChatCompletion, error) {
	return nil, f.err
}

func (f failingAPI) NewStreaming(context.Context, openai.ChatCompletionNewParams, ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk] {
	return ssestream.NewStream[openai.ChatCompletionChunk](nil, f.err)
}

func TestChatCompletions_ErrorPassesThrough(t *testing.T) {
	boom := errors.New("rate limited")
	rec := &recorder{}
	completions := Wrap(failingAPI{err: boom}, span.NewTracer(span.Config{Processor: rec}), WithoutContent())

	resp, err := completions.New(context.Background(), params())
	assert.Nil(t, resp)
	assert.Same(t, boom, err)

	stream := completions.NewStreaming(context.Background(), params())
	assert.False(t, stream.Next())
	assert.Same(t, boom, stream.Err())

	records := rec.all()
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, span.StatusError, r.Status)
		assert.Nil(t, r.Input)
	}
}
