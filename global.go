package agentreplay

import (
	"context"
	"sync"

	"github.com/agentreplay/agentreplay-go/pkg/agentctx"
	pkgerrors "github.com/agentreplay/agentreplay-go/pkg/errors"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

var (
	globalMu     sync.Mutex
	globalClient *Client
)

// Init creates the process-wide client. While that client is active, later
// calls return it unchanged and ignore opts. After Shutdown, Init creates a
// new client.
func Init(opts ...Option) (*Client, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalClient != nil && globalClient.lifecycle.IsActive() {
		globalClient.logger.Debug("already initialized, ignoring options")
		return globalClient, nil
	}
	c, err := New(opts...)
	if err != nil {
		return nil, err
	}
	globalClient = c
	return c, nil
}

// Default returns the process-wide client, or nil before Init.
func Default() *Client {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalClient
}

// IsInitialized reports whether an active process-wide client exists.
func IsInitialized() bool {
	c := Default()
	return c != nil && c.lifecycle.IsActive()
}

// Start starts a span on the process-wide client. Before Init the span is
// recorded nowhere.
func Start(ctx context.Context, kind span.Kind, name string, opts ...span.StartOption) (context.Context, *span.Span) {
	if c := Default(); c != nil {
		return c.Start(ctx, kind, name, opts...)
	}
	var t *span.Tracer
	return t.Start(ctx, kind, name, opts...)
}

// Activate layers f over the identifiers on ctx.
func Activate(ctx context.Context, f Fields) context.Context {
	return agentctx.Activate(ctx, f)
}

// SetGlobalContext merges f into the process-wide default identifiers.
// Closing the returned scope restores the previous defaults.
func SetGlobalContext(f Fields) *agentctx.Scope {
	return agentctx.SetGlobal(f)
}

// Flush flushes the process-wide client.
func Flush(ctx context.Context) (int, error) {
	c := Default()
	if c == nil {
		return 0, pkgerrors.ErrNotInitialized
	}
	return c.Flush(ctx)
}

// Shutdown shuts the process-wide client down. It is a no-op before Init.
func Shutdown(ctx context.Context) error {
	c := Default()
	if c == nil {
		return nil
	}
	return c.Shutdown(ctx)
}
