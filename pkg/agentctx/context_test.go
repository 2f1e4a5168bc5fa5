package agentctx

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrent_Empty(t *testing.T) {
	ClearGlobal()

	assert.True(t, Current(context.Background()).IsZero())
	var nilCtx context.Context
	assert.True(t, Current(nilCtx).IsZero())
}

func TestActivate_Nesting(t *testing.T) {
	ClearGlobal()

	outer := Activate(context.Background(), Fields{AgentID: "planner", SessionID: "s-1"})
	inner := Activate(outer, Fields{SessionID: "s-2", UserID: "u-9"})

	assert.Equal(t, Fields{AgentID: "planner", SessionID: "s-2", UserID: "u-9"}, Current(inner))
	// The enclosing layer is untouched.
	assert.Equal(t, Fields{AgentID: "planner", SessionID: "s-1"}, Current(outer))
}

func TestGlobal_FallbackAndScope(t *testing.T) {
	ClearGlobal()
	t.Cleanup(ClearGlobal)

	s1 := SetGlobal(Fields{AgentID: "default-agent", WorkflowID: "wf"})
	ctx := Activate(context.Background(), Fields{AgentID: "scoped"})

	assert.Equal(t, Fields{AgentID: "scoped", WorkflowID: "wf"}, Current(ctx))

	s2 := SetGlobal(Fields{UserID: "alice"})
	assert.Equal(t, Fields{AgentID: "default-agent", WorkflowID: "wf", UserID: "alice"}, Global())

	s2.Close()
	s2.Close()
	assert.Equal(t, Fields{AgentID: "default-agent", WorkflowID: "wf"}, Global())

	s1.Close()
	assert.True(t, Global().IsZero())
}

func TestActivate_GoroutineInheritsScope(t *testing.T) {
	ClearGlobal()

	ctx := Activate(context.Background(), Fields{SessionID: "parent"})
	got := make(chan Fields, 1)
	go func(ctx context.Context) {
		got <- Current(ctx)
	}(ctx)

	assert.Equal(t, "parent", (<-got).SessionID)
}

func TestActivate_NoCrossTalk(t *testing.T) {
	ClearGlobal()

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := Fields{AgentID: fmt.Sprintf("agent-%d", i), SessionID: fmt.Sprintf("session-%d", i)}
			ctx := Activate(context.Background(), want)
			for range 200 {
				if got := Current(ctx); got != want {
					errs <- fmt.Errorf("worker %d observed %+v", i, got)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}

func TestFields_Attributes(t *testing.T) {
	attrs := Fields{AgentID: "a", UserID: "u"}.Attributes()
	assert.Equal(t, map[string]string{AttrAgentID: "a", AttrUserID: "u"}, attrs)
}
