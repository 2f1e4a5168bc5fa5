// Package exporter delivers span batches to an ingestion sink.
//
// HTTPExporter is the primary transport: JSON batches posted to the
// AgentReplay server. OTLPExporter re-encodes records as OpenTelemetry spans
// for collectors that speak OTLP over HTTP. Multi fans a batch out to
// several exporters.
package exporter

import (
	"context"

	"github.com/agentreplay/agentreplay-go/pkg/span"
)

// Exporter delivers batches of ended spans.
type Exporter interface {
	Export(ctx context.Context, records []span.Record) error
	Shutdown(ctx context.Context) error
}
