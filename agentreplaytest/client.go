package agentreplaytest

import (
	"context"
	"testing"
	"time"

	agentreplay "github.com/agentreplay/agentreplay-go"
	pkghttp "github.com/agentreplay/agentreplay-go/pkg/http"
)

// NewTestClient returns a client exporting to a new MockServer. The client
// batches up to 1000 spans, only flushes when asked and never retries
// within a delivery, so tests control delivery with Flush. Both are shut
// down when the test ends.
//
// opts are applied after the defaults and may override them.
func NewTestClient(t testing.TB, opts ...agentreplay.Option) (*agentreplay.Client, *MockServer) {
	t.Helper()

	server := NewMockServer()
	base := []agentreplay.Option{
		agentreplay.WithURL(server.URL),
		agentreplay.WithAPIKey("test-key"),
		agentreplay.WithBatchSize(1000),
		agentreplay.WithFlushInterval(time.Hour),
		agentreplay.WithRetryStrategy(pkghttp.NoRetry{}),
		agentreplay.WithExitHook(false),
	}
	client, err := agentreplay.New(append(base, opts...)...)
	if err != nil {
		server.Close()
		t.Fatalf("agentreplaytest: create client: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Shutdown(ctx)
		server.Close()
	})
	return client, server
}
