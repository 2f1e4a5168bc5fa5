package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/agentreplay/agentreplay-go/pkg/logging"
	"github.com/agentreplay/agentreplay-go/pkg/metrics"
)

// Hook observes or decorates outgoing delivery requests.
type Hook interface {
	// BeforeRequest may modify req. A non-nil error aborts the request.
	BeforeRequest(ctx context.Context, req *http.Request) error

	// AfterResponse observes the outcome. resp is nil when err is set.
	AfterResponse(ctx context.Context, req *http.Request, resp *http.Response, duration time.Duration, err error)
}

// HookFunc adapts plain functions to Hook. Either field may be nil.
type HookFunc struct {
	Before func(ctx context.Context, req *http.Request) error
	After  func(ctx context.Context, req *http.Request, resp *http.Response, duration time.Duration, err error)
}

func (f HookFunc) BeforeRequest(ctx context.Context, req *http.Request) error {
	if f.Before == nil {
		return nil
	}
	return f.Before(ctx, req)
}

func (f HookFunc) AfterResponse(ctx context.Context, req *http.Request, resp *http.Response, d time.Duration, err error) {
	if f.After != nil {
		f.After(ctx, req, resp, d, err)
	}
}

// Hooks runs hooks in order before a request and in reverse order after it.
// A panicking hook is recovered and reported as an error before the request,
// or logged after it.
type Hooks struct {
	hooks  []Hook
	logger logging.StructuredLogger
}

// NewHooks builds a chain. Nil hooks are skipped.
func NewHooks(logger logging.StructuredLogger, hooks ...Hook) *Hooks {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	h := &Hooks{logger: logger}
	for _, hook := range hooks {
		if hook != nil {
			h.hooks = append(h.hooks, hook)
		}
	}
	return h
}

// Len returns the number of hooks.
func (h *Hooks) Len() int {
	if h == nil {
		return 0
	}
	return len(h.hooks)
}

func (h *Hooks) BeforeRequest(ctx context.Context, req *http.Request) error {
	if h == nil {
		return nil
	}
	for i, hook := range h.hooks {
		if err := h.before(ctx, req, hook); err != nil {
			return fmt.Errorf("agentreplay: request hook %d: %w", i, err)
		}
	}
	return nil
}

func (h *Hooks) before(ctx context.Context, req *http.Request, hook Hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook.BeforeRequest(ctx, req)
}

func (h *Hooks) AfterResponse(ctx context.Context, req *http.Request, resp *http.Response, d time.Duration, err error) {
	if h == nil {
		return
	}
	for i := len(h.hooks) - 1; i >= 0; i-- {
		h.after(ctx, req, resp, d, err, h.hooks[i])
	}
}

func (h *Hooks) after(ctx context.Context, req *http.Request, resp *http.Response, d time.Duration, err error, hook Hook) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("response hook panicked", "panic", r)
		}
	}()
	hook.AfterResponse(ctx, req, resp, d, err)
}

// HeaderHook sets fixed headers on every request.
func HeaderHook(headers map[string]string) Hook {
	return HookFunc{
		Before: func(_ context.Context, req *http.Request) error {
			for k, v := range headers {
				req.Header.Set(k, v)
			}
			return nil
		},
	}
}

// LoggingHook logs each request at debug level. Header values are not logged.
func LoggingHook(logger logging.StructuredLogger) Hook {
	return HookFunc{
		After: func(_ context.Context, req *http.Request, resp *http.Response, d time.Duration, err error) {
			if err != nil {
				logger.Debug("delivery request failed", "method", req.Method, "path", req.URL.Path, "duration", d, "error", err)
				return
			}
			logger.Debug("delivery request completed", "method", req.Method, "path", req.URL.Path, "duration", d, "status", resp.StatusCode)
		},
	}
}

// MetricsHook records request counts, latency and status classes.
func MetricsHook(m metrics.Metrics) Hook {
	if m == nil {
		return HookFunc{}
	}
	return HookFunc{
		After: func(_ context.Context, _ *http.Request, resp *http.Response, d time.Duration, err error) {
			m.IncrementCounter("agentreplay.http.requests", 1)
			m.RecordDuration("agentreplay.http.duration", d)
			if err != nil {
				m.IncrementCounter("agentreplay.http.errors", 1)
				return
			}
			m.IncrementCounter("agentreplay.http.status."+strconv.Itoa(resp.StatusCode/100)+"xx", 1)
		},
	}
}
