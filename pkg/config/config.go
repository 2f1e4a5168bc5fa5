package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/agentreplay/agentreplay-go/pkg/errors"
)

// Default configuration values.
const (
	DefaultURL            = "http://localhost:8080"
	DefaultTenantID       = 1
	DefaultAgentID        = 1
	DefaultEnvironment    = "development"
	DefaultServiceName    = "agentreplay-app"
	DefaultBatchSize      = 100
	DefaultFlushInterval  = 5 * time.Second
	DefaultMaxQueueSize   = 10000
	DefaultMaxRetries     = 3
	DefaultRetryQueueSize = 100
	DefaultTimeout        = 30 * time.Second
	DefaultFlushTimeout   = 5 * time.Second
	DefaultMaxPayloadSize = 100000
	DefaultTransport      = TransportHTTP
)

// Limits enforced by Validate.
const (
	MinFlushInterval = 10 * time.Millisecond
	MaxBatchSize     = 10000
	MaxRetriesLimit  = 100
)

// Transport selects how batches leave the process.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportOTLP Transport = "otlp"
)

// Config is the resolved client configuration.
//
// Boolean settings whose default is true are pointers so that an explicit
// false can be told apart from unset. Use the Is* accessors to read them.
type Config struct {
	Enabled *bool  `env:"AGENTREPLAY_ENABLED, overwrite, noinit" yaml:"enabled"`
	URL     string `env:"AGENTREPLAY_URL, overwrite" yaml:"url"`
	APIKey  string `env:"AGENTREPLAY_API_KEY, overwrite" yaml:"api_key"`

	TenantID  int64 `env:"AGENTREPLAY_TENANT_ID, overwrite" yaml:"tenant_id"`
	ProjectID int64 `env:"AGENTREPLAY_PROJECT_ID, overwrite" yaml:"project_id"`
	AgentID   int64 `env:"AGENTREPLAY_AGENT_ID, overwrite" yaml:"agent_id"`

	Environment string `env:"AGENTREPLAY_ENVIRONMENT, overwrite" yaml:"environment"`
	ServiceName string `env:"AGENTREPLAY_SERVICE_NAME, overwrite" yaml:"service_name"`

	BatchSize      int           `env:"AGENTREPLAY_BATCH_SIZE, overwrite" yaml:"batch_size"`
	FlushInterval  time.Duration `env:"AGENTREPLAY_FLUSH_INTERVAL, overwrite" yaml:"flush_interval"`
	MaxQueueSize   int           `env:"AGENTREPLAY_MAX_QUEUE_SIZE, overwrite" yaml:"max_queue_size"`
	MaxRetries     int           `env:"AGENTREPLAY_MAX_RETRIES, overwrite" yaml:"max_retries"`
	RetryQueueSize int           `env:"AGENTREPLAY_MAX_RETRY_BATCHES, overwrite" yaml:"max_retry_batches"`
	Timeout        time.Duration `env:"AGENTREPLAY_TIMEOUT, overwrite" yaml:"timeout"`
	FlushTimeout   time.Duration `env:"AGENTREPLAY_FLUSH_TIMEOUT, overwrite" yaml:"flush_timeout"`

	CaptureInput   *bool `env:"AGENTREPLAY_CAPTURE_INPUT, overwrite, noinit" yaml:"capture_input"`
	CaptureOutput  *bool `env:"AGENTREPLAY_CAPTURE_OUTPUT, overwrite, noinit" yaml:"capture_output"`
	MaxPayloadSize int   `env:"AGENTREPLAY_MAX_PAYLOAD_SIZE, overwrite" yaml:"max_payload_size"`

	Debug  bool `env:"AGENTREPLAY_DEBUG, overwrite" yaml:"debug"`
	Strict bool `env:"AGENTREPLAY_STRICT, overwrite" yaml:"strict"`

	Transport    Transport `env:"AGENTREPLAY_TRANSPORT, overwrite" yaml:"transport"`
	OTLPEndpoint string    `env:"AGENTREPLAY_OTLP_ENDPOINT, overwrite" yaml:"otlp_endpoint"`
	OTLPInsecure bool      `env:"AGENTREPLAY_OTLP_INSECURE, overwrite" yaml:"otlp_insecure"`

	Redaction Redaction `yaml:"redaction"`
}

// Redaction configures the privacy filter applied before spans are queued.
type Redaction struct {
	Paths []string `env:"AGENTREPLAY_REDACT_PATHS, overwrite" yaml:"paths"`

	// Patterns are regular expressions. They are separated by ";" in the
	// environment since expressions commonly contain commas.
	Patterns []string `env:"AGENTREPLAY_REDACT_PATTERNS, overwrite, delimiter=;" yaml:"patterns"`

	Hash     bool   `env:"AGENTREPLAY_REDACT_HASH, overwrite" yaml:"hash"`
	Salt     string `env:"AGENTREPLAY_REDACT_SALT, overwrite" yaml:"salt"`
	Builtins *bool  `env:"AGENTREPLAY_REDACT_BUILTINS, overwrite, noinit" yaml:"builtins"`
}

// Bool returns a pointer to b, for the pointer-valued settings.
func Bool(b bool) *bool {
	return &b
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// IsEnabled reports whether spans are exported.
func (c *Config) IsEnabled() bool { return boolOr(c.Enabled, true) }

// IsCaptureInput reports whether span inputs are recorded.
func (c *Config) IsCaptureInput() bool { return boolOr(c.CaptureInput, true) }

// IsCaptureOutput reports whether span outputs are recorded.
func (c *Config) IsCaptureOutput() bool { return boolOr(c.CaptureOutput, true) }

// UseBuiltinPatterns reports whether the built-in PII patterns are active.
func (r Redaction) UseBuiltinPatterns() bool { return boolOr(r.Builtins, true) }

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults sets unset fields to their default values.
func (c *Config) ApplyDefaults() {
	if c.Enabled == nil {
		c.Enabled = Bool(true)
	}
	if c.URL == "" {
		c.URL = DefaultURL
	}
	c.URL = strings.TrimRight(c.URL, "/")
	if c.TenantID == 0 {
		c.TenantID = DefaultTenantID
	}
	if c.AgentID == 0 {
		c.AgentID = DefaultAgentID
	}
	if c.Environment == "" {
		c.Environment = DefaultEnvironment
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryQueueSize == 0 {
		c.RetryQueueSize = DefaultRetryQueueSize
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.FlushTimeout == 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	if c.CaptureInput == nil {
		c.CaptureInput = Bool(true)
	}
	if c.CaptureOutput == nil {
		c.CaptureOutput = Bool(true)
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if c.Transport == "" {
		c.Transport = DefaultTransport
	}
	if c.Redaction.Builtins == nil {
		c.Redaction.Builtins = Bool(true)
	}
}

// Validate checks the configuration. It expects ApplyDefaults to have run.
func (c *Config) Validate() error {
	if c.URL == "" {
		return pkgerrors.NewConfigurationError("url", "must not be empty", pkgerrors.ErrMissingURL)
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return pkgerrors.NewConfigurationError("url", fmt.Sprintf("invalid URL %q", c.URL), err)
	}
	if c.Strict && c.APIKey == "" {
		return pkgerrors.NewConfigurationError("api_key", "required in strict mode", pkgerrors.ErrMissingAPIKey)
	}
	if c.TenantID < 0 || c.ProjectID < 0 || c.AgentID < 0 {
		return pkgerrors.NewConfigurationError("tenant_id", "routing identifiers must not be negative", nil)
	}
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		return pkgerrors.NewConfigurationError("batch_size", fmt.Sprintf("must be between 1 and %d", MaxBatchSize), nil)
	}
	if c.MaxQueueSize < 1 {
		return pkgerrors.NewConfigurationError("max_queue_size", "must be positive", nil)
	}
	if c.FlushInterval < MinFlushInterval {
		return pkgerrors.NewConfigurationError("flush_interval", fmt.Sprintf("must be at least %v", MinFlushInterval), nil)
	}
	if c.MaxRetries < 0 || c.MaxRetries > MaxRetriesLimit {
		return pkgerrors.NewConfigurationError("max_retries", fmt.Sprintf("must be between 0 and %d", MaxRetriesLimit), nil)
	}
	if c.RetryQueueSize < 0 {
		return pkgerrors.NewConfigurationError("max_retry_batches", "must not be negative", nil)
	}
	if c.Timeout <= 0 {
		return pkgerrors.NewConfigurationError("timeout", "must be positive", nil)
	}
	if c.FlushTimeout <= 0 {
		return pkgerrors.NewConfigurationError("flush_timeout", "must be positive", nil)
	}
	if c.MaxPayloadSize < 0 {
		return pkgerrors.NewConfigurationError("max_payload_size", "must not be negative", nil)
	}
	switch c.Transport {
	case TransportHTTP:
	case TransportOTLP:
		if c.OTLPEndpoint == "" {
			return pkgerrors.NewConfigurationError("otlp_endpoint", "required when transport is otlp", nil)
		}
	default:
		return pkgerrors.NewConfigurationError("transport", fmt.Sprintf("unknown transport %q", c.Transport), nil)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	if c.Enabled != nil {
		out.Enabled = Bool(*c.Enabled)
	}
	if c.CaptureInput != nil {
		out.CaptureInput = Bool(*c.CaptureInput)
	}
	if c.CaptureOutput != nil {
		out.CaptureOutput = Bool(*c.CaptureOutput)
	}
	if c.Redaction.Builtins != nil {
		out.Redaction.Builtins = Bool(*c.Redaction.Builtins)
	}
	out.Redaction.Paths = append([]string(nil), c.Redaction.Paths...)
	out.Redaction.Patterns = append([]string(nil), c.Redaction.Patterns...)
	return &out
}

// String returns a representation safe for logs. The API key is masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{URL: %q, APIKey: %q, Tenant: %d, Project: %d, Agent: %d, Env: %q, Transport: %s, BatchSize: %d, FlushInterval: %v, MaxQueueSize: %d, Enabled: %t, Debug: %t}",
		c.URL, maskKey(c.APIKey), c.TenantID, c.ProjectID, c.AgentID, c.Environment,
		c.Transport, c.BatchSize, c.FlushInterval, c.MaxQueueSize, c.IsEnabled(), c.Debug,
	)
}

func maskKey(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 8:
		return "****"
	default:
		return key[:4] + "..." + key[len(key)-4:]
	}
}
