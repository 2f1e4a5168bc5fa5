// Package agentreplaytest provides test helpers for applications using the
// agentreplay SDK.
//
// # Mock Server
//
// MockServer speaks the ingestion API and records every batch:
//
//	server := agentreplaytest.NewMockServer()
//	defer server.Close()
//
//	client, _ := agentreplay.New(agentreplay.WithURL(server.URL))
//	// ... record spans, then client.Flush(ctx) ...
//
//	for _, rec := range server.Spans() {
//	    // assert on rec.Name, rec.ParentID, rec.Attributes ...
//	}
//
// # Test Client
//
// NewTestClient returns a client wired to a fresh MockServer that only
// flushes when asked. Both are cleaned up when the test ends:
//
//	func TestMyAgent(t *testing.T) {
//	    client, server := agentreplaytest.NewTestClient(t)
//	    runAgent(ctx, client)
//	    client.Flush(ctx)
//	    if server.SpanCount() != 3 {
//	        t.Error("expected 3 spans")
//	    }
//	}
//
// # Mock Metrics and Logger
//
// MockMetrics and MockLogger record what the SDK reports through
// agentreplay.WithMetrics and agentreplay.WithLogger.
package agentreplaytest
