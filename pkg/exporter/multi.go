package exporter

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/agentreplay/agentreplay-go/pkg/span"
)

// Multi exports every batch to all of its exporters concurrently.
type Multi []Exporter

// Export returns the first failure. The batch counts as delivered only if
// every exporter accepted it.
func (m Multi) Export(ctx context.Context, records []span.Record) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, e := range m {
		g.Go(func() error {
			return e.Export(ctx, records)
		})
	}
	return g.Wait()
}

// Shutdown shuts down every exporter and joins their errors.
func (m Multi) Shutdown(ctx context.Context) error {
	errs := make([]error, len(m))
	var g errgroup.Group
	for i, e := range m {
		g.Go(func() error {
			errs[i] = e.Shutdown(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
