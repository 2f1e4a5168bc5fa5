// Package agentreplay is a Go SDK for recording the execution of AI agents
// as causal graphs of spans and delivering them to an AgentReplay server.
//
// # Quick Start
//
// Create a client and record spans:
//
//	client, err := agentreplay.New(
//	    agentreplay.WithURL("http://localhost:8080"),
//	    agentreplay.WithTenantID(1),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Shutdown(context.Background())
//
//	ctx = client.Activate(ctx, agentreplay.Fields{AgentID: "planner", SessionID: "s-42"})
//
//	ctx, root := client.Start(ctx, span.KindRoot, "answer-question")
//	_, tool := client.Start(ctx, span.KindToolCall, "web-search",
//	    span.WithInput(map[string]any{"query": "go generics"}))
//	tool.SetOutput(results)
//	tool.End()
//	root.End()
//
// Spans started from a context carrying a span become its children and
// inherit the trace. The identifiers installed with Activate are copied onto
// every span started beneath them, including spans started by goroutines
// that were handed the derived context.
//
// # Configuration
//
// New reads AGENTREPLAY_* environment variables, then applies options:
//
//	AGENTREPLAY_ENABLED          enable export (default true)
//	AGENTREPLAY_URL              server URL (default http://localhost:8080)
//	AGENTREPLAY_API_KEY          bearer token
//	AGENTREPLAY_TENANT_ID        tenant routing key (default 1)
//	AGENTREPLAY_PROJECT_ID       project routing key (default 0)
//	AGENTREPLAY_AGENT_ID         agent routing key (default 1)
//	AGENTREPLAY_BATCH_SIZE       spans per batch (default 100)
//	AGENTREPLAY_FLUSH_INTERVAL   seconds between flushes (default 5)
//	AGENTREPLAY_MAX_QUEUE_SIZE   buffered spans before the oldest are dropped (default 10000)
//	AGENTREPLAY_TIMEOUT          request timeout in seconds (default 30)
//	AGENTREPLAY_CAPTURE_INPUT    record span inputs (default true)
//	AGENTREPLAY_CAPTURE_OUTPUT   record span outputs (default true)
//	AGENTREPLAY_DEBUG            debug logging to stderr
//	AGENTREPLAY_STRICT           fail construction on missing settings
//
// See package config for the complete list, including redaction and OTLP
// settings.
//
// # Delivery
//
// Ended spans are redacted, buffered and sent in batches by one background
// worker; starting and ending spans never blocks on the network. Transient
// failures are retried with backoff and then parked in a bounded retry
// queue. Permanent rejections are discarded. When the buffer is full the
// oldest spans are dropped. Nothing in the pipeline returns an error or
// panics into instrumented code; use Stats to detect lost data.
//
// Shutdown flushes what it can within its deadline and stops the worker.
// Unless disabled with WithExitHook(false), the client also shuts down on
// SIGINT or SIGTERM.
//
// # Instrumentation
//
// Package instrument wraps arbitrary calls and streams, and correlates
// framework callbacks. Packages instrument/anthropic and instrument/openai
// wrap the provider SDKs:
//
//	client := anthropic.NewClient()
//	messages := instrumentanthropic.Wrap(&client.Messages, ar.Tracer())
//
// # Thread Safety
//
// Client, Tracer and Span are safe for concurrent use.
package agentreplay

// Version is the SDK version reported in the User-Agent header.
const Version = "0.1.0"
