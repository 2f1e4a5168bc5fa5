package agentreplay_test

import (
	"context"
	"errors"
	"fmt"

	agentreplay "github.com/agentreplay/agentreplay-go"
	"github.com/agentreplay/agentreplay-go/pkg/instrument"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

func ExampleNew() {
	client, err := agentreplay.New(
		agentreplay.WithURL("http://localhost:8080"),
		agentreplay.WithServiceName("support-bot"),
		agentreplay.WithEnabled(false),
		agentreplay.WithExitHook(false),
	)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	defer client.Shutdown(context.Background())

	fmt.Println("enabled:", client.Enabled())
	// Output: enabled: false
}

func ExampleClient_Start() {
	client, _ := agentreplay.New(agentreplay.WithEnabled(false), agentreplay.WithExitHook(false))
	defer client.Shutdown(context.Background())

	ctx := client.Activate(context.Background(), agentreplay.Fields{AgentID: "planner", SessionID: "s-42"})
	ctx, run := client.Start(ctx, span.KindRoot, "agent.run")
	defer run.End()

	_, tool := client.Start(ctx, span.KindToolCall, "search", span.WithInput(map[string]any{"q": "weather"}))
	tool.SetOutput("sunny")
	tool.End()

	fmt.Println(tool.ParentID() == run.ID(), tool.TraceID() == run.TraceID())
	// Output: true true
}

func Example_instrumentCall() {
	client, _ := agentreplay.New(agentreplay.WithEnabled(false), agentreplay.WithExitHook(false))
	defer client.Shutdown(context.Background())

	answer, err := instrument.Call(context.Background(), client.Tracer(), span.KindFunction, "lookup",
		func(ctx context.Context) (string, error) {
			return "42", nil
		})
	fmt.Println(answer, err)

	_, err = instrument.Call(context.Background(), client.Tracer(), span.KindFunction, "broken",
		func(ctx context.Context) (int, error) {
			return 0, errors.New("boom")
		})
	fmt.Println(err)
	// Output:
	// 42 <nil>
	// boom
}
