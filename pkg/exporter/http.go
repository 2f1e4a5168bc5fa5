package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	pkgerrors "github.com/agentreplay/agentreplay-go/pkg/errors"
	pkghttp "github.com/agentreplay/agentreplay-go/pkg/http"
	"github.com/agentreplay/agentreplay-go/pkg/logging"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

// Paths on the ingestion server.
const (
	TracesPath = "/api/v1/traces"
	HealthPath = "/health"
)

const (
	// DefaultCompressThreshold is the body size above which requests are gzipped.
	DefaultCompressThreshold = 1024

	// DefaultUserAgent identifies the SDK when HTTPConfig.UserAgent is empty.
	DefaultUserAgent = "agentreplay-go"

	maxRequestBodySize = 10 * 1024 * 1024
	maxResponseSize    = 10 * 1024 * 1024
)

// HTTPConfig configures an HTTPExporter.
type HTTPConfig struct {
	// URL is the server base URL, for example "http://localhost:8080".
	URL    string
	APIKey string

	TenantID  int64
	ProjectID int64

	// Timeout applies per request when HTTPClient is nil.
	Timeout    time.Duration
	HTTPClient *http.Client

	UserAgent string

	// CompressThreshold overrides DefaultCompressThreshold. Negative
	// disables compression.
	CompressThreshold int

	// CircuitBreaker, if set, fails requests fast while the server is down.
	CircuitBreaker *pkghttp.CircuitBreaker

	Hooks  *pkghttp.Hooks
	Logger logging.StructuredLogger
}

// IngestResponse is the server's reply to a batch.
type IngestResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors"`
}

// HealthStatus is the reply to a health check.
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type ingestRequest struct {
	Spans []span.Record `json:"spans"`
}

type encodedRequest struct {
	Spans []json.RawMessage `json:"spans"`
}

// encodeBatch encodes records as one ingest request. When the batch does
// not encode as a whole, records are encoded one at a time; those that fail
// are left out, logged and counted as rejected.
func (e *HTTPExporter) encodeBatch(records []span.Record) ([]byte, error) {
	body, err := json.Marshal(ingestRequest{Spans: records})
	if err == nil {
		return body, nil
	}
	encoded := make([]json.RawMessage, 0, len(records))
	for _, rec := range records {
		b, recErr := json.Marshal(rec)
		if recErr != nil {
			e.rejected.Add(1)
			e.logger.Warn("span does not encode, leaving it out of the batch",
				"span_id", rec.SpanID.String(), "name", rec.Name, "error", recErr)
			continue
		}
		encoded = append(encoded, b)
	}
	if len(encoded) == 0 {
		return nil, fmt.Errorf("agentreplay: encode batch: %w", err)
	}
	return json.Marshal(encodedRequest{Spans: encoded})
}

// HTTPExporter posts JSON batches to the ingestion server.
type HTTPExporter struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	tenant    string
	project   string
	userAgent string
	threshold int
	breaker   *pkghttp.CircuitBreaker
	hooks     *pkghttp.Hooks
	logger    logging.StructuredLogger

	accepted atomic.Int64
	rejected atomic.Int64
	closed   atomic.Bool
}

// NewHTTPExporter validates cfg and returns an exporter.
func NewHTTPExporter(cfg HTTPConfig) (*HTTPExporter, error) {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, pkgerrors.NewConfigurationError("url", "ingestion URL is required", pkgerrors.ErrMissingURL)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	threshold := cfg.CompressThreshold
	if threshold == 0 {
		threshold = DefaultCompressThreshold
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &HTTPExporter{
		client:    client,
		baseURL:   base,
		apiKey:    cfg.APIKey,
		tenant:    strconv.FormatInt(cfg.TenantID, 10),
		project:   strconv.FormatInt(cfg.ProjectID, 10),
		userAgent: ua,
		threshold: threshold,
		breaker:   cfg.CircuitBreaker,
		hooks:     cfg.Hooks,
		logger:    logger,
	}, nil
}

var gzipWriters = sync.Pool{
	New: func() any { return gzip.NewWriter(io.Discard) },
}

// Export posts records as one batch. Responses with status 400 and above
// are returned as *errors.APIError.
func (e *HTTPExporter) Export(ctx context.Context, records []span.Record) error {
	if len(records) == 0 {
		return nil
	}
	if e.closed.Load() {
		return pkgerrors.ErrClientClosed
	}

	body, err := e.encodeBatch(records)
	if err != nil {
		return err
	}
	if len(body) > maxRequestBodySize {
		return fmt.Errorf("agentreplay: batch of %d bytes exceeds maximum %d bytes", len(body), maxRequestBodySize)
	}

	send := func() error {
		var resp IngestResponse
		if err := e.do(ctx, http.MethodPost, TracesPath, body, &resp); err != nil {
			return err
		}
		e.accepted.Add(int64(resp.Accepted))
		if resp.Rejected > 0 {
			e.rejected.Add(int64(resp.Rejected))
			e.logger.Warn("server rejected spans", "rejected", resp.Rejected, "accepted", resp.Accepted, "errors", resp.Errors)
		}
		return nil
	}
	if e.breaker != nil {
		return e.breaker.Execute(send)
	}
	return send()
}

// Health calls the server health endpoint. It bypasses the circuit breaker.
func (e *HTTPExporter) Health(ctx context.Context) (HealthStatus, error) {
	var status HealthStatus
	err := e.do(ctx, http.MethodGet, HealthPath, nil, &status)
	return status, err
}

// Shutdown stops further exports and releases idle connections.
func (e *HTTPExporter) Shutdown(context.Context) error {
	if e.closed.CompareAndSwap(false, true) {
		e.client.CloseIdleConnections()
	}
	return nil
}

// Stats reports server-side acceptance counts.
func (e *HTTPExporter) Stats() (accepted, rejected int64) {
	return e.accepted.Load(), e.rejected.Load()
}

func (e *HTTPExporter) do(ctx context.Context, method, path string, body []byte, result any) error {
	var (
		reader     io.Reader
		compressed bool
	)
	if body != nil {
		if e.threshold > 0 && len(body) > e.threshold {
			gz, err := compress(body)
			if err != nil {
				return fmt.Errorf("agentreplay: compress batch: %w", err)
			}
			body, compressed = gz, true
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("agentreplay: create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("X-Tenant-ID", e.tenant)
	req.Header.Set("X-Project-ID", e.project)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	if err := e.hooks.BeforeRequest(ctx, req); err != nil {
		return err
	}
	start := time.Now()
	resp, err := e.client.Do(req)
	e.hooks.AfterResponse(ctx, req, resp, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("agentreplay: request failed (request_id=%s): %w", requestID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return fmt.Errorf("agentreplay: read response (request_id=%s): %w", requestID, err)
	}
	if len(respBody) > maxResponseSize {
		return fmt.Errorf("agentreplay: response exceeded %d bytes (request_id=%s)", maxResponseSize, requestID)
	}

	if resp.StatusCode >= 400 {
		apiErr := &pkgerrors.APIError{StatusCode: resp.StatusCode, RequestID: requestID}
		if len(respBody) > 0 && json.Unmarshal(respBody, apiErr) != nil {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("agentreplay: decode response (request_id=%s): %w", requestID, err)
		}
	}
	return nil
}

func compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(body) / 4)
	gz := gzipWriters.Get().(*gzip.Writer)
	defer gzipWriters.Put(gz)
	gz.Reset(&buf)
	if _, err := gz.Write(body); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
