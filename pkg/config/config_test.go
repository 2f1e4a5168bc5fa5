package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"

	pkgerrors "github.com/agentreplay/agentreplay-go/pkg/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.URL != DefaultURL {
		t.Errorf("URL = %v, want %v", cfg.URL, DefaultURL)
	}
	if cfg.TenantID != 1 || cfg.AgentID != 1 || cfg.ProjectID != 0 {
		t.Errorf("routing = %d/%d/%d, want 1/0/1", cfg.TenantID, cfg.ProjectID, cfg.AgentID)
	}
	if cfg.BatchSize != 100 {
		t.Errorf("BatchSize = %v, want 100", cfg.BatchSize)
	}
	if cfg.FlushInterval != 5*time.Second {
		t.Errorf("FlushInterval = %v, want 5s", cfg.FlushInterval)
	}
	if !cfg.IsEnabled() || !cfg.IsCaptureInput() || !cfg.IsCaptureOutput() {
		t.Error("enabled and capture flags should default to true")
	}
	if cfg.Transport != TransportHTTP {
		t.Errorf("Transport = %v, want http", cfg.Transport)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestApplyDefaults_KeepsExplicitFalse(t *testing.T) {
	cfg := &Config{Enabled: Bool(false), CaptureInput: Bool(false)}
	cfg.ApplyDefaults()

	if cfg.IsEnabled() {
		t.Error("IsEnabled() = true, want false")
	}
	if cfg.IsCaptureInput() {
		t.Error("IsCaptureInput() = true, want false")
	}
	if !cfg.IsCaptureOutput() {
		t.Error("IsCaptureOutput() = false, want true")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad scheme", mutate: func(c *Config) { c.URL = "ftp://example.com" }, field: "url"},
		{name: "no host", mutate: func(c *Config) { c.URL = "http://" }, field: "url"},
		{name: "strict without key", mutate: func(c *Config) { c.Strict = true }, field: "api_key", wantErr: pkgerrors.ErrMissingAPIKey},
		{name: "strict with key", mutate: func(c *Config) { c.Strict = true; c.APIKey = "sk-test" }},
		{name: "batch too large", mutate: func(c *Config) { c.BatchSize = MaxBatchSize + 1 }, field: "batch_size"},
		{name: "negative batch", mutate: func(c *Config) { c.BatchSize = -1 }, field: "batch_size"},
		{name: "tiny flush interval", mutate: func(c *Config) { c.FlushInterval = time.Millisecond }, field: "flush_interval"},
		{name: "too many retries", mutate: func(c *Config) { c.MaxRetries = 1000 }, field: "max_retries"},
		{name: "unknown transport", mutate: func(c *Config) { c.Transport = "carrier-pigeon" }, field: "transport"},
		{name: "otlp without endpoint", mutate: func(c *Config) { c.Transport = TransportOTLP }, field: "otlp_endpoint"},
		{name: "otlp with endpoint", mutate: func(c *Config) { c.Transport = TransportOTLP; c.OTLPEndpoint = "localhost:4318" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.field == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			var cfgErr *pkgerrors.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want *ConfigurationError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %v, want %v", cfgErr.Field, tt.field)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestString_MasksAPIKey(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "sk-live-1234567890abcdef"

	s := cfg.String()
	if strings.Contains(s, cfg.APIKey) {
		t.Errorf("String() leaks the API key: %s", s)
	}
	if !strings.Contains(s, "sk-l...cdef") {
		t.Errorf("String() = %s, want masked key", s)
	}
}

func TestLoad_Env(t *testing.T) {
	env := envconfig.MapLookuper(map[string]string{
		"AGENTREPLAY_URL":             "https://replay.example.com/",
		"AGENTREPLAY_API_KEY":         "key",
		"AGENTREPLAY_TENANT_ID":       "42",
		"AGENTREPLAY_PROJECT_ID":      "7",
		"AGENTREPLAY_BATCH_SIZE":      "25",
		"AGENTREPLAY_FLUSH_INTERVAL":  "0.5",
		"AGENTREPLAY_TIMEOUT":         "10s",
		"AGENTREPLAY_ENABLED":         "false",
		"AGENTREPLAY_REDACT_PATHS":    "password,headers.authorization",
		"AGENTREPLAY_REDACT_PATTERNS": `\d{3,4};secret-\w+`,
	})

	cfg, err := Load(context.Background(), LoadOptions{Lookuper: env})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.URL != "https://replay.example.com" {
		t.Errorf("URL = %v", cfg.URL)
	}
	if cfg.TenantID != 42 || cfg.ProjectID != 7 {
		t.Errorf("routing = %d/%d, want 42/7", cfg.TenantID, cfg.ProjectID)
	}
	if cfg.BatchSize != 25 {
		t.Errorf("BatchSize = %v, want 25", cfg.BatchSize)
	}
	if cfg.FlushInterval != 500*time.Millisecond {
		t.Errorf("FlushInterval = %v, want 500ms", cfg.FlushInterval)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", cfg.Timeout)
	}
	if cfg.IsEnabled() {
		t.Error("IsEnabled() = true, want false")
	}
	if got := cfg.Redaction.Paths; len(got) != 2 || got[1] != "headers.authorization" {
		t.Errorf("Redaction.Paths = %v", got)
	}
	if got := cfg.Redaction.Patterns; len(got) != 2 || got[0] != `\d{3,4}` {
		t.Errorf("Redaction.Patterns = %v", got)
	}
	if cfg.MaxQueueSize != DefaultMaxQueueSize {
		t.Errorf("MaxQueueSize = %v, want default", cfg.MaxQueueSize)
	}
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "agentreplay.yaml")
	writeFile(t, file, `
url: http://file.example.com
batch_size: 10
flush_interval: 2
service_name: from-file
redaction:
  paths: [password]
  hash: true
`)
	dotenv := filepath.Join(dir, ".env")
	writeFile(t, dotenv, "AGENTREPLAY_BATCH_SIZE=20\nAGENTREPLAY_SERVICE_NAME=from-dotenv\n")

	env := envconfig.MapLookuper(map[string]string{
		"AGENTREPLAY_BATCH_SIZE": "30",
	})

	cfg, err := Load(context.Background(), LoadOptions{
		File:     file,
		DotEnv:   []string{dotenv, filepath.Join(dir, "missing.env")},
		Lookuper: env,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.URL != "http://file.example.com" {
		t.Errorf("URL = %v, want file value", cfg.URL)
	}
	if cfg.BatchSize != 30 {
		t.Errorf("BatchSize = %v, want env value 30", cfg.BatchSize)
	}
	if cfg.ServiceName != "from-dotenv" {
		t.Errorf("ServiceName = %v, want dotenv value", cfg.ServiceName)
	}
	if cfg.FlushInterval != 2*time.Second {
		t.Errorf("FlushInterval = %v, want 2s", cfg.FlushInterval)
	}
	if !cfg.Redaction.Hash || len(cfg.Redaction.Paths) != 1 {
		t.Errorf("Redaction = %+v", cfg.Redaction)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadFile() error = nil for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, bad, "batch_size: [not, a, number]\n")
	_, err := LoadFile(bad)
	var cfgErr *pkgerrors.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("LoadFile() error = %v, want *ConfigurationError", err)
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	env := envconfig.MapLookuper(map[string]string{"AGENTREPLAY_BATCH_SIZE": "many"})
	if _, err := Load(context.Background(), LoadOptions{Lookuper: env}); err == nil {
		t.Error("Load() error = nil, want parse error")
	}
}

func TestClone(t *testing.T) {
	cfg := Default()
	cfg.Redaction.Paths = []string{"a"}

	clone := cfg.Clone()
	clone.Redaction.Paths[0] = "b"
	*clone.Enabled = false

	if cfg.Redaction.Paths[0] != "a" || !cfg.IsEnabled() {
		t.Error("Clone() shares state with the original")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}
