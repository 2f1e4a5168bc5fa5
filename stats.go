package agentreplay

import (
	"context"
	"net/http"
	"time"

	pkgerrors "github.com/agentreplay/agentreplay-go/pkg/errors"
	pkghttp "github.com/agentreplay/agentreplay-go/pkg/http"
	"github.com/agentreplay/agentreplay-go/pkg/id"
	"github.com/agentreplay/agentreplay-go/pkg/ingestion"
	"github.com/agentreplay/agentreplay-go/pkg/instrument"
	"github.com/agentreplay/agentreplay-go/pkg/lifecycle"
	"github.com/agentreplay/agentreplay-go/pkg/redact"
)

// Stats reports the state of the client so silent data loss can be
// detected. DroppedCount and DiscardedCount are the loss counters.
type Stats struct {
	ingestion.Diagnostics

	Enabled bool
	// ConfigError is the problem that disabled export, if any.
	ConfigError error

	Lifecycle    lifecycle.Stats
	Backpressure ingestion.QueueMonitorStats
	Circuit      pkghttp.CircuitStats
	Redaction    redact.Stats
	IDs          id.Stats

	// Accepted and Rejected are the server's per-span counts from the JSON
	// transport.
	Accepted int64
	Rejected int64

	InstrumentationFailures int64
}

// Stats returns a snapshot of the client.
func (c *Client) Stats() Stats {
	s := Stats{
		Enabled:                 c.enabled,
		ConfigError:             c.configErr,
		Lifecycle:               c.lifecycle.Stats(),
		Redaction:               c.redactor.Stats(),
		IDs:                     c.ids.Stats(),
		InstrumentationFailures: instrument.Failures(),
	}
	if c.processor != nil {
		s.Diagnostics = c.processor.Stats()
		s.Backpressure = c.processor.Monitor().Stats()
	} else {
		s.Closed = !c.lifecycle.IsActive()
	}
	if c.breaker != nil {
		s.Circuit = c.breaker.Stats()
	}
	if c.http != nil {
		s.Accepted, s.Rejected = c.http.Stats()
	}
	return s
}

// PingResult is the outcome of a health check.
type PingResult struct {
	Success    bool
	LatencyMS  int64
	StatusCode int
	Version    string
	Error      string
}

// Ping checks that the ingestion server is reachable. It never returns an
// error; failures are described in the result.
func (c *Client) Ping(ctx context.Context) PingResult {
	if c.http == nil {
		return PingResult{Error: "health check requires the HTTP transport"}
	}
	start := time.Now()
	status, err := c.http.Health(ctx)
	res := PingResult{LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
		if apiErr, ok := pkgerrors.AsAPIError(err); ok {
			res.StatusCode = apiErr.StatusCode
		}
		return res
	}
	res.Success = true
	res.StatusCode = http.StatusOK
	res.Version = status.Version
	return res
}
