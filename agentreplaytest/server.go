package agentreplaytest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/agentreplay/agentreplay-go/pkg/exporter"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

// ServerVersion is reported by the mock health endpoint.
const ServerVersion = "mock"

// MockServer is an ingestion server that records requests for verification.
type MockServer struct {
	*httptest.Server

	mu        sync.Mutex
	requests  []*RecordedRequest
	batches   [][]span.Record
	responder func(r *http.Request) (int, any)
	header    http.Header
}

// RecordedRequest is one request received by the server. Body is
// decompressed.
type RecordedRequest struct {
	Method          string
	Path            string
	Body            []byte
	ContentType     string
	ContentEncoding string
	Header          http.Header
}

// NewMockServer starts a server that accepts every batch.
func NewMockServer() *MockServer {
	ms := &MockServer{}
	ms.Server = httptest.NewServer(http.HandlerFunc(ms.handle))
	return ms
}

func (ms *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rr := &RecordedRequest{
		Method:          r.Method,
		Path:            r.URL.Path,
		Body:            body,
		ContentType:     r.Header.Get("Content-Type"),
		ContentEncoding: r.Header.Get("Content-Encoding"),
		Header:          r.Header.Clone(),
	}

	ms.mu.Lock()
	ms.requests = append(ms.requests, rr)
	responder, header := ms.responder, ms.header
	ms.mu.Unlock()

	for k, vs := range header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}

	if r.URL.Path == exporter.HealthPath && responder == nil {
		writeJSON(w, http.StatusOK, exporter.HealthStatus{Status: "healthy", Version: ServerVersion})
		return
	}

	var payload struct {
		Spans []span.Record `json:"spans"`
	}
	if r.URL.Path == exporter.TracesPath {
		if err := json.Unmarshal(body, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	if responder != nil {
		status, resp := responder(r)
		if status < 300 && r.URL.Path == exporter.TracesPath {
			ms.record(payload.Spans)
		}
		writeJSON(w, status, resp)
		return
	}

	if r.URL.Path != exporter.TracesPath {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	ms.record(payload.Spans)
	writeJSON(w, http.StatusOK, exporter.IngestResponse{Accepted: len(payload.Spans)})
}

func (ms *MockServer) record(spans []span.Record) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.batches = append(ms.batches, spans)
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	var rd io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		rd = zr
	}
	return io.ReadAll(rd)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// Requests returns all recorded requests.
func (ms *MockServer) Requests() []*RecordedRequest {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]*RecordedRequest(nil), ms.requests...)
}

// RequestCount returns the number of recorded requests.
func (ms *MockServer) RequestCount() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.requests)
}

// LastRequest returns the most recent request, or nil.
func (ms *MockServer) LastRequest() *RecordedRequest {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if len(ms.requests) == 0 {
		return nil
	}
	return ms.requests[len(ms.requests)-1]
}

// Batches returns the accepted span batches in arrival order.
func (ms *MockServer) Batches() [][]span.Record {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([][]span.Record(nil), ms.batches...)
}

// BatchCount returns the number of accepted batches.
func (ms *MockServer) BatchCount() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.batches)
}

// Spans returns every accepted span in arrival order.
func (ms *MockServer) Spans() []span.Record {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var out []span.Record
	for _, b := range ms.batches {
		out = append(out, b...)
	}
	return out
}

// SpanCount returns the number of accepted spans.
func (ms *MockServer) SpanCount() int {
	return len(ms.Spans())
}

// SpanNamed returns the first accepted span with the given name.
func (ms *MockServer) SpanNamed(name string) (span.Record, bool) {
	for _, rec := range ms.Spans() {
		if rec.Name == name {
			return rec, true
		}
	}
	return span.Record{}, false
}

// Reset clears recorded requests and batches.
func (ms *MockServer) Reset() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.requests = nil
	ms.batches = nil
}

// RespondWith makes the server reply to every request with status and body.
// Batches are recorded only for 2xx statuses.
func (ms *MockServer) RespondWith(status int, body any) {
	ms.SetResponseFunc(func(*http.Request) (int, any) { return status, body })
}

// SetResponseFunc customizes replies. Nil restores the default behavior.
func (ms *MockServer) SetResponseFunc(fn func(r *http.Request) (int, any)) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.responder = fn
	ms.header = nil
}

// RespondWithSuccess restores the default behavior.
func (ms *MockServer) RespondWithSuccess() {
	ms.SetResponseFunc(nil)
}

// RespondWithError replies with statusCode and message.
func (ms *MockServer) RespondWithError(statusCode int, message string) {
	ms.RespondWith(statusCode, map[string]string{"error": message, "message": message})
}

// RespondWithServerError replies with 500.
func (ms *MockServer) RespondWithServerError() {
	ms.RespondWithError(http.StatusInternalServerError, "internal server error")
}

// RespondWithUnauthorized replies with 401.
func (ms *MockServer) RespondWithUnauthorized() {
	ms.RespondWithError(http.StatusUnauthorized, "invalid API key")
}

// RespondWithRateLimit replies with 429 and a Retry-After header.
func (ms *MockServer) RespondWithRateLimit(retryAfterSeconds int) {
	ms.RespondWithError(http.StatusTooManyRequests, "rate limit exceeded")
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.header = http.Header{"Retry-After": []string{strconv.Itoa(retryAfterSeconds)}}
}

// FailNext makes the next n requests fail with status, then restores the
// default behavior.
func (ms *MockServer) FailNext(n int, status int) {
	var mu sync.Mutex
	remaining := n
	ms.SetResponseFunc(func(*http.Request) (int, any) {
		mu.Lock()
		defer mu.Unlock()
		if remaining > 0 {
			remaining--
			return status, map[string]string{"error": http.StatusText(status)}
		}
		return http.StatusOK, nil
	})
}
