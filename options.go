package agentreplay

import (
	"net/http"
	"time"

	"github.com/agentreplay/agentreplay-go/pkg/config"
	"github.com/agentreplay/agentreplay-go/pkg/exporter"
	pkghttp "github.com/agentreplay/agentreplay-go/pkg/http"
	"github.com/agentreplay/agentreplay-go/pkg/ingestion"
	"github.com/agentreplay/agentreplay-go/pkg/logging"
	"github.com/agentreplay/agentreplay-go/pkg/metrics"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	base    *config.Config
	load    config.LoadOptions
	cfgFns  []func(*config.Config)
	logger  logging.StructuredLogger
	metrics metrics.Metrics

	httpClient  *http.Client
	hooks       []pkghttp.Hook
	breaker     *pkghttp.CircuitBreakerConfig
	exporter    exporter.Exporter
	additional  []exporter.Exporter
	retry       pkghttp.RetryStrategy
	redactFn    func(string) string
	exitHook    bool
	idleWarning time.Duration

	errorHandler   func(error)
	onBackpressure ingestion.BackpressureCallback
	onBatchFlushed func(ingestion.BatchResult)
}

func (o *options) config(fn func(*config.Config)) {
	o.cfgFns = append(o.cfgFns, fn)
}

// WithConfig uses cfg instead of reading the environment. Later options
// still apply on top of it.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.base = cfg.Clone()
		}
	}
}

// WithConfigFile reads a YAML configuration file beneath the environment.
func WithConfigFile(path string) Option {
	return func(o *options) { o.load.File = path }
}

// WithDotEnv reads .env files beneath the process environment.
func WithDotEnv(files ...string) Option {
	return func(o *options) { o.load.DotEnv = append(o.load.DotEnv, files...) }
}

// WithEnabled turns export on or off. A disabled client records spans but
// never exports them.
func WithEnabled(enabled bool) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.Enabled = config.Bool(enabled) }) }
}

// WithURL sets the ingestion server URL.
func WithURL(url string) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.URL = url }) }
}

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.APIKey = key }) }
}

// WithTenantID sets the tenant routing key.
func WithTenantID(id int64) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.TenantID = id }) }
}

// WithProjectID sets the project routing key.
func WithProjectID(id int64) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.ProjectID = id }) }
}

// WithAgentID sets the agent routing key.
func WithAgentID(id int64) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.AgentID = id }) }
}

// WithEnvironment sets the deployment environment attribute.
func WithEnvironment(env string) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.Environment = env }) }
}

// WithServiceName sets the service name attribute.
func WithServiceName(name string) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.ServiceName = name }) }
}

// WithBatchSize sets the number of spans per batch.
func WithBatchSize(size int) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.BatchSize = size }) }
}

// WithFlushInterval sets the time between background flushes.
func WithFlushInterval(interval time.Duration) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.FlushInterval = interval }) }
}

// WithMaxQueueSize bounds the span buffer.
func WithMaxQueueSize(size int) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.MaxQueueSize = size }) }
}

// WithMaxRetries sets the attempts per delivery after the first.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.MaxRetries = n }) }
}

// WithMaxRetryBatches bounds the retry queue.
func WithMaxRetryBatches(n int) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.RetryQueueSize = n }) }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.Timeout = timeout }) }
}

// WithFlushTimeout bounds Shutdown when its context has no deadline.
func WithFlushTimeout(timeout time.Duration) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.FlushTimeout = timeout }) }
}

// WithCaptureInput turns recording of span inputs on or off.
func WithCaptureInput(capture bool) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.CaptureInput = config.Bool(capture) }) }
}

// WithCaptureOutput turns recording of span outputs on or off.
func WithCaptureOutput(capture bool) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.CaptureOutput = config.Bool(capture) }) }
}

// WithMaxPayloadSize truncates string payloads longer than size bytes and
// replaces structured payloads whose JSON exceeds size with a preview.
func WithMaxPayloadSize(size int) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.MaxPayloadSize = size }) }
}

// WithDebug enables debug logging. Without WithLogger, logs go to stderr.
func WithDebug(debug bool) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.Debug = debug }) }
}

// WithStrict makes New fail on invalid or missing settings instead of
// returning a disabled client.
func WithStrict(strict bool) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.Strict = strict }) }
}

// WithOTLP exports over OTLP/HTTP to endpoint instead of the JSON API.
func WithOTLP(endpoint string, insecure bool) Option {
	return func(o *options) {
		o.config(func(c *config.Config) {
			c.Transport = config.TransportOTLP
			c.OTLPEndpoint = endpoint
			c.OTLPInsecure = insecure
		})
	}
}

// WithRedaction sets the privacy filter configuration.
func WithRedaction(r config.Redaction) Option {
	return func(o *options) { o.config(func(c *config.Config) { c.Redaction = r }) }
}

// WithScrubPaths adds payload paths that are replaced entirely.
func WithScrubPaths(paths ...string) Option {
	return func(o *options) {
		o.config(func(c *config.Config) { c.Redaction.Paths = append(c.Redaction.Paths, paths...) })
	}
}

// WithRedactPatterns adds regular expressions whose matches are redacted.
func WithRedactPatterns(patterns ...string) Option {
	return func(o *options) {
		o.config(func(c *config.Config) { c.Redaction.Patterns = append(c.Redaction.Patterns, patterns...) })
	}
}

// WithCustomRedactor runs fn on every string before the patterns.
func WithCustomRedactor(fn func(string) string) Option {
	return func(o *options) { o.redactFn = fn }
}

// WithLogger sets the logger. It overrides the debug logger.
func WithLogger(logger logging.StructuredLogger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the telemetry sink, for example metrics.NewPrometheus.
func WithMetrics(m metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithHTTPClient sets the HTTP client used by the JSON exporter.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithHooks adds request hooks to the JSON exporter.
func WithHooks(hooks ...pkghttp.Hook) Option {
	return func(o *options) { o.hooks = append(o.hooks, hooks...) }
}

// WithCircuitBreaker overrides the circuit breaker settings of the JSON
// exporter.
func WithCircuitBreaker(cfg pkghttp.CircuitBreakerConfig) Option {
	return func(o *options) { o.breaker = &cfg }
}

// WithExporter replaces the configured transport.
func WithExporter(e exporter.Exporter) Option {
	return func(o *options) { o.exporter = e }
}

// WithAdditionalExporter sends every batch to e as well.
func WithAdditionalExporter(e exporter.Exporter) Option {
	return func(o *options) { o.additional = append(o.additional, e) }
}

// WithRetryStrategy overrides the retry policy within one delivery.
func WithRetryStrategy(s pkghttp.RetryStrategy) Option {
	return func(o *options) { o.retry = s }
}

// WithExitHook controls whether the client shuts down on SIGINT or SIGTERM.
// Enabled by default.
func WithExitHook(enabled bool) Option {
	return func(o *options) { o.exitHook = enabled }
}

// WithIdleWarning logs a warning if the client sees no spans for d while it
// has not been shut down.
func WithIdleWarning(d time.Duration) Option {
	return func(o *options) { o.idleWarning = d }
}

// WithErrorHandler receives delivery errors.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.errorHandler = fn }
}

// WithOnBackpressure is called when the buffer crosses a fill threshold.
func WithOnBackpressure(fn ingestion.BackpressureCallback) Option {
	return func(o *options) { o.onBackpressure = fn }
}

// WithOnBatchFlushed is called after every batch delivery.
func WithOnBatchFlushed(fn func(ingestion.BatchResult)) Option {
	return func(o *options) { o.onBatchFlushed = fn }
}
