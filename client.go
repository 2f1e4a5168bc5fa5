package agentreplay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agentreplay/agentreplay-go/pkg/agentctx"
	"github.com/agentreplay/agentreplay-go/pkg/config"
	pkgerrors "github.com/agentreplay/agentreplay-go/pkg/errors"
	"github.com/agentreplay/agentreplay-go/pkg/exporter"
	pkghttp "github.com/agentreplay/agentreplay-go/pkg/http"
	"github.com/agentreplay/agentreplay-go/pkg/id"
	"github.com/agentreplay/agentreplay-go/pkg/ingestion"
	"github.com/agentreplay/agentreplay-go/pkg/lifecycle"
	"github.com/agentreplay/agentreplay-go/pkg/logging"
	"github.com/agentreplay/agentreplay-go/pkg/metrics"
	"github.com/agentreplay/agentreplay-go/pkg/redact"
	"github.com/agentreplay/agentreplay-go/pkg/span"
)

// Client owns the span pipeline: tracer, redactor, batching processor and
// exporter. It is safe for concurrent use.
type Client struct {
	config  *config.Config
	enabled bool
	// configErr is the configuration problem that disabled the client.
	configErr error

	tracer    *span.Tracer
	redactor  *redact.Redactor
	processor *ingestion.Processor
	exporter  exporter.Exporter
	http      *exporter.HTTPExporter
	breaker   *pkghttp.CircuitBreaker
	lifecycle *lifecycle.Manager
	ids       *id.Generator

	logger  logging.StructuredLogger
	metrics metrics.Metrics
	sync    func() error

	flights      singleflight.Group
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a client from the environment and opts. See the package
// documentation for the recognized variables.
//
// Invalid or missing settings produce a disabled client that records spans
// but never exports them, unless strict mode is on, in which case New
// returns a *ConfigurationError. Malformed redaction patterns always fail.
func New(opts ...Option) (*Client, error) {
	o := options{exitHook: true}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, loadErr := resolveConfig(&o)

	logger := o.logger
	var syncFn func() error
	if logger == nil {
		if cfg.Debug {
			zl := logging.NewDebugLogger()
			logger, syncFn = zl, zl.Sync
		} else {
			logger = logging.NopLogger{}
		}
	}
	m := o.metrics
	if m == nil {
		m = metrics.Nop{}
	}

	configErr := loadErr
	if configErr == nil {
		configErr = cfg.Validate()
	}
	if configErr != nil && cfg.Strict {
		return nil, configErr
	}

	redactor, err := redact.New(redact.Config{
		Patterns:           cfg.Redaction.Patterns,
		ScrubPaths:         cfg.Redaction.Paths,
		HashMode:           cfg.Redaction.Hash,
		Salt:               cfg.Redaction.Salt,
		UseBuiltinPatterns: cfg.Redaction.UseBuiltinPatterns(),
		CustomRedactor:     o.redactFn,
		MaxPayloadSize:     cfg.MaxPayloadSize,
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:    cfg,
		enabled:   cfg.IsEnabled() && configErr == nil,
		configErr: configErr,
		redactor:  redactor,
		logger:    logger,
		metrics:   m,
		sync:      syncFn,
		ids: id.NewGenerator(&id.GeneratorConfig{
			Metrics: m,
			Logger:  logging.Printf(logger),
		}),
		lifecycle: lifecycle.NewManager(&lifecycle.Config{
			IdleWarningDuration: o.idleWarning,
			Logger:              logger,
			Metrics:             m,
		}),
	}
	if configErr != nil {
		logger.Error("invalid configuration, spans will not be exported", "error", configErr)
	}

	if c.enabled {
		if err := c.startPipeline(&o); err != nil {
			if cfg.Strict {
				_ = c.lifecycle.BeginShutdown()
				c.lifecycle.CompleteShutdown()
				return nil, err
			}
			logger.Error("cannot start export pipeline, spans will not be exported", "error", err)
			c.enabled = false
			c.configErr = err
		}
	}

	c.tracer = span.NewTracer(span.Config{
		Processor:      span.ProcessorFunc(c.process),
		OmitInput:      !cfg.IsCaptureInput(),
		OmitOutput:     !cfg.IsCaptureOutput(),
		MaxPayloadSize: cfg.MaxPayloadSize,
		IDs:            c.ids,
	})

	if o.exitHook {
		c.lifecycle.WatchExit(func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.FlushTimeout)
			defer cancel()
			if err := c.Shutdown(ctx); err != nil {
				logger.Warn("shutdown on exit incomplete", "error", err)
			}
		})
	}

	logger.Debug("client created", "config", cfg.String(), "enabled", c.enabled)
	return c, nil
}

// NewWithConfig creates a client from cfg without reading the environment.
func NewWithConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, pkgerrors.NewConfigurationError("", "nil configuration", pkgerrors.ErrInvalidConfig)
	}
	return New(append([]Option{WithConfig(cfg)}, opts...)...)
}

func resolveConfig(o *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.base != nil {
		cfg = o.base
	} else {
		cfg, err = config.Load(context.Background(), o.load)
		if err != nil {
			cfg = &config.Config{}
		}
	}
	for _, fn := range o.cfgFns {
		fn(cfg)
	}
	cfg.ApplyDefaults()
	return cfg, err
}

func (c *Client) startPipeline(o *options) error {
	cfg := c.config

	var primary exporter.Exporter
	switch {
	case o.exporter != nil:
		primary = o.exporter
	case cfg.Transport == config.TransportOTLP:
		otlp, err := exporter.NewOTLPExporter(context.Background(), exporter.OTLPConfig{
			Endpoint:       cfg.OTLPEndpoint,
			Insecure:       cfg.OTLPInsecure,
			Headers:        bearer(cfg.APIKey),
			Timeout:        cfg.Timeout,
			ServiceName:    cfg.ServiceName,
			ServiceVersion: Version,
			Environment:    cfg.Environment,
		})
		if err != nil {
			return err
		}
		primary = otlp
	default:
		breakerCfg := pkghttp.CircuitBreakerConfig{}
		if o.breaker != nil {
			breakerCfg = *o.breaker
		}
		c.breaker = pkghttp.NewCircuitBreaker(breakerCfg)

		hooks := append([]pkghttp.Hook{pkghttp.MetricsHook(c.metrics)}, o.hooks...)
		if cfg.Debug {
			hooks = append(hooks, pkghttp.LoggingHook(c.logger))
		}
		h, err := exporter.NewHTTPExporter(exporter.HTTPConfig{
			URL:            cfg.URL,
			APIKey:         cfg.APIKey,
			TenantID:       cfg.TenantID,
			ProjectID:      cfg.ProjectID,
			Timeout:        cfg.Timeout,
			HTTPClient:     o.httpClient,
			UserAgent:      exporter.DefaultUserAgent + "/" + Version,
			CircuitBreaker: c.breaker,
			Hooks:          pkghttp.NewHooks(c.logger, hooks...),
			Logger:         c.logger,
		})
		if err != nil {
			return err
		}
		c.http = h
		primary = h
	}

	c.exporter = primary
	if len(o.additional) > 0 {
		c.exporter = append(exporter.Multi{primary}, o.additional...)
	}

	retry := o.retry
	if retry == nil {
		retry = pkghttp.NewExponentialBackoff(cfg.MaxRetries)
	}
	p, err := ingestion.NewProcessor(ingestion.Config{
		Exporter:        c.exporter,
		BatchSize:       cfg.BatchSize,
		MaxQueueSize:    cfg.MaxQueueSize,
		MaxRetryBatches: cfg.RetryQueueSize,
		FlushInterval:   cfg.FlushInterval,
		FlushTimeout:    cfg.FlushTimeout,
		Retry:           retry,
		Routing: span.Routing{
			TenantID:    cfg.TenantID,
			ProjectID:   cfg.ProjectID,
			AgentID:     cfg.AgentID,
			Environment: cfg.Environment,
			ServiceName: cfg.ServiceName,
		},
		Backpressure:   ingestion.DefaultBackpressureThreshold(),
		OnBackpressure: o.onBackpressure,
		OnBatchFlushed: o.onBatchFlushed,
		ErrorHandler:   o.errorHandler,
		Logger:         c.logger,
		Metrics:        c.metrics,
	})
	if err != nil {
		return err
	}
	c.processor = p
	return nil
}

func bearer(key string) map[string]string {
	if key == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + key}
}

// process is the tracer's sink: redact, then buffer.
func (c *Client) process(rec span.Record) {
	if !c.enabled {
		return
	}
	c.lifecycle.RecordActivity()
	c.processor.Insert(c.redactor.RedactRecord(rec))
}

// Enabled reports whether spans are exported.
func (c *Client) Enabled() bool {
	return c.enabled
}

// Config returns a copy of the resolved configuration.
func (c *Client) Config() *config.Config {
	return c.config.Clone()
}

// Tracer returns the tracer for instrumentation adapters.
func (c *Client) Tracer() *span.Tracer {
	return c.tracer
}

// Start starts a span. The returned context carries it, so spans started
// from that context become its children.
func (c *Client) Start(ctx context.Context, kind span.Kind, name string, opts ...span.StartOption) (context.Context, *span.Span) {
	return c.tracer.Start(ctx, kind, name, opts...)
}

// Activate returns a context carrying f layered over the identifiers
// already on ctx. Spans started beneath it carry the merged identifiers.
func (c *Client) Activate(ctx context.Context, f Fields) context.Context {
	return agentctx.Activate(ctx, f)
}

// Flush delivers the retry queue and everything buffered, and returns the
// number of spans sent. Concurrent calls share one flush, which runs for at
// least the flush timeout even if the caller that started it gives up.
func (c *Client) Flush(ctx context.Context) (int, error) {
	if c.processor == nil {
		return 0, nil
	}
	ch := c.flights.DoChan("flush", func() (any, error) {
		// Callers share this flush, so one caller's cancellation must not
		// end it for the others.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flushBudget(ctx))
		defer cancel()
		return c.processor.FlushAll(fctx)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	n, _ := res.Val.(int)
	if errors.Is(res.Err, pkgerrors.ErrClientClosed) {
		return n, nil
	}
	return n, res.Err
}

// flushBudget is the flush timeout, extended to ctx's deadline when that is
// later.
func (c *Client) flushBudget(ctx context.Context) time.Duration {
	budget := c.config.FlushTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > budget {
			budget = rem
		}
	}
	return budget
}

// Shutdown flushes what it can and stops the background worker. When ctx
// has no deadline the flush timeout applies. Spans that could not be
// delivered are reported in a *ShutdownError. Shutdown is safe to call
// more than once and concurrently; every call returns the first result.
func (c *Client) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.shutdownErr = c.shutdown(ctx)
	})
	return c.shutdownErr
}

// Close is an alias for Shutdown.
func (c *Client) Close(ctx context.Context) error {
	return c.Shutdown(ctx)
}

func (c *Client) shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.lifecycle.BeginShutdown(); err != nil {
		return nil
	}
	start := time.Now()

	var errs []error
	if c.processor != nil {
		if err := c.processor.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.exporter != nil {
		if err := c.exporter.Shutdown(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("exporter shutdown: %w", err))
		}
	}
	c.lifecycle.CompleteShutdown()

	err := errors.Join(errs...)
	if err != nil {
		c.logger.Warn("shutdown incomplete", "error", err, "duration", time.Since(start))
		c.metrics.IncrementCounter("agentreplay.shutdown.incomplete", 1)
	} else {
		c.logger.Debug("shutdown complete", "duration", time.Since(start))
		c.metrics.IncrementCounter("agentreplay.shutdown.success", 1)
	}
	if c.sync != nil {
		_ = c.sync()
	}
	return err
}
