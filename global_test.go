package agentreplay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentreplay "github.com/agentreplay/agentreplay-go"
	"github.com/agentreplay/agentreplay-go/agentreplaytest"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

func TestGlobal_Lifecycle(t *testing.T) {
	ctx := context.Background()

	// Before Init spans are recorded nowhere and shutdown is a no-op.
	if agentreplay.Default() == nil {
		_, s := agentreplay.Start(ctx, span.KindRoot, "orphan")
		s.End()
		assert.True(t, s.IsEnded())
		assert.NoError(t, agentreplay.Shutdown(ctx))
		_, err := agentreplay.Flush(ctx)
		assert.ErrorIs(t, err, agentreplay.ErrNotInitialized)
	}

	server := agentreplaytest.NewMockServer()
	defer server.Close()
	opts := []agentreplay.Option{
		agentreplay.WithURL(server.URL),
		agentreplay.WithFlushInterval(time.Hour),
		agentreplay.WithExitHook(false),
	}

	first, err := agentreplay.Init(opts...)
	require.NoError(t, err)
	again, err := agentreplay.Init(agentreplay.WithEnabled(false))
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.True(t, agentreplay.IsInitialized())
	assert.Same(t, first, agentreplay.Default())

	scope := agentreplay.SetGlobalContext(agentreplay.Fields{WorkflowID: "wf-1"})
	_, s := agentreplay.Start(agentreplay.Activate(ctx, agentreplay.Fields{UserID: "u-1"}), span.KindRoot, "global")
	s.End()
	scope.Close()

	n, err := agentreplay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rec, ok := server.SpanNamed("global")
	require.True(t, ok)
	assert.Equal(t, "wf-1", rec.Attributes["workflow_id"])
	assert.Equal(t, "u-1", rec.Attributes["user_id"])

	require.NoError(t, agentreplay.Shutdown(ctx))
	assert.False(t, agentreplay.IsInitialized())

	second, err := agentreplay.Init(opts...)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	require.NoError(t, agentreplay.Shutdown(ctx))
}
