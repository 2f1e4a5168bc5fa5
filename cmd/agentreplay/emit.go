package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	agentreplay "github.com/agentreplay/agentreplay-go"
	"github.com/agentreplay/agentreplay-go/pkg/instrument"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

// emit sends one synthetic agent run: a root span with n tool calls and a
// generation, then flushes and reports what the pipeline delivered.
func emit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("emit", flag.ContinueOnError)
	n := fs.Int("n", 3, "number of tool call spans")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *n < 0 {
		return errors.New("-n must not be negative")
	}

	client, err := newClient(agentreplay.WithStrict(false))
	if err != nil {
		return err
	}
	if !client.Enabled() {
		_ = client.Shutdown(ctx)
		return fmt.Errorf("export disabled: %v", client.Stats().ConfigError)
	}

	ctx = client.Activate(ctx, agentreplay.Fields{
		AgentID:   "agentreplay-cli",
		SessionID: fmt.Sprintf("emit-%d", time.Now().Unix()),
	})
	runCtx, run := client.Start(ctx, span.KindRoot, "cli.emit", span.WithInput(map[string]any{"tool_calls": *n}))

	tracker := instrument.NewRunTracker(client.Tracer())
	for i := range *n {
		runID := fmt.Sprintf("tool-%d", i)
		tracker.Start(runCtx, runID, "", span.KindToolCall, "synthetic.tool", map[string]any{"index": i})
		tracker.End(runID, fmt.Sprintf("result %d", i), span.TokenUsage{})
	}

	_, err = instrument.Call(runCtx, client.Tracer(), span.KindGeneration, "synthetic.generation",
		func(context.Context) (string, error) { return "done", nil },
		instrument.WithModel("synthetic"),
		instrument.WithInput("summarize the tool results"),
	)
	if err != nil {
		return err
	}
	run.End()

	sent, flushErr := client.Flush(ctx)
	shutdownErr := client.Shutdown(ctx)

	stats := client.Stats()
	fmt.Printf("trace %s: sent %d spans, dropped %d, discarded %d\n",
		run.TraceID(), sent, stats.DroppedCount, stats.DiscardedCount)
	return errors.Join(flushErr, shutdownErr)
}
