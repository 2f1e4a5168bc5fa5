package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	pkgerrors "github.com/agentreplay/agentreplay-go/pkg/errors"
)

// LoadOptions controls where Load reads configuration from.
type LoadOptions struct {
	// File is an optional YAML configuration file.
	File string

	// DotEnv lists .env files read beneath the process environment.
	// Missing files are ignored.
	DotEnv []string

	// Lookuper replaces the process environment. Used by tests.
	Lookuper envconfig.Lookuper
}

var durationEnv = map[string]bool{
	"AGENTREPLAY_FLUSH_INTERVAL": true,
	"AGENTREPLAY_TIMEOUT":        true,
	"AGENTREPLAY_FLUSH_TIMEOUT":  true,
}

var durationYAML = map[string]bool{
	"flush_interval": true,
	"timeout":        true,
	"flush_timeout":  true,
}

// FromEnv builds a configuration from the process environment.
func FromEnv(ctx context.Context) (*Config, error) {
	return Load(ctx, LoadOptions{})
}

// Load resolves a configuration from a file, .env files and the
// environment, then applies defaults. The result is not validated.
func Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	cfg := &Config{}
	if opts.File != "" {
		if err := decodeFile(opts.File, cfg); err != nil {
			return nil, err
		}
	}

	lookuper := opts.Lookuper
	if lookuper == nil {
		lookuper = envconfig.OsLookuper()
	}
	if len(opts.DotEnv) > 0 {
		vars, err := readDotEnv(opts.DotEnv)
		if err != nil {
			return nil, err
		}
		lookuper = envconfig.MultiLookuper(lookuper, envconfig.MapLookuper(vars))
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: secondsLookuper{next: lookuper},
	}); err != nil {
		return nil, pkgerrors.NewConfigurationError("env", "cannot read environment", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func readDotEnv(files []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, f := range files {
		vars, err := godotenv.Read(f)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, pkgerrors.NewConfigurationError("dotenv", fmt.Sprintf("cannot read %s", f), err)
		}
		// Earlier files win, matching godotenv.Load.
		for k, v := range vars {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return pkgerrors.NewConfigurationError("file", fmt.Sprintf("cannot read %s", path), err)
	}
	return decodeYAML(data, cfg)
}

func decodeYAML(data []byte, cfg *Config) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return pkgerrors.NewConfigurationError("file", "invalid YAML", err)
	}
	if root.Kind == 0 {
		return nil
	}
	normalizeDurations(&root)
	if err := root.Decode(cfg); err != nil {
		return pkgerrors.NewConfigurationError("file", "invalid configuration", err)
	}
	return nil
}

// normalizeDurations rewrites bare numeric duration values as seconds so
// yaml.v3 can decode them into time.Duration.
func normalizeDurations(n *yaml.Node) {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			normalizeDurations(c)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if durationYAML[key.Value] && val.Kind == yaml.ScalarNode {
				if d, ok := parseSeconds(val.Value); ok {
					val.Value = d.String()
					val.Tag = "!!str"
				}
				continue
			}
			normalizeDurations(val)
		}
	}
}

// secondsLookuper accepts bare numbers for duration variables and converts
// them to Go duration syntax.
type secondsLookuper struct {
	next envconfig.Lookuper
}

func (l secondsLookuper) Lookup(key string) (string, bool) {
	v, ok := l.next.Lookup(key)
	if !ok || !durationEnv[key] {
		return v, ok
	}
	if d, isNum := parseSeconds(v); isNum {
		return d.String(), true
	}
	return v, true
}

func parseSeconds(s string) (time.Duration, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(f * float64(time.Second)), true
}
