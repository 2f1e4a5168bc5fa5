// Package main provides the agentreplay CLI for checking connectivity and
// configuration of the trace pipeline.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	agentreplay "github.com/agentreplay/agentreplay-go"
)

const timeout = 30 * time.Second

// configFile is read when present, beneath the environment.
var configFile = os.Getenv("AGENTREPLAY_CONFIG_FILE")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "ping":
		err = ping(ctx)
	case "config":
		err = showConfig()
	case "emit":
		err = emit(ctx, os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("agentreplay version %s\n", agentreplay.Version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(opts ...agentreplay.Option) (*agentreplay.Client, error) {
	base := []agentreplay.Option{
		agentreplay.WithDotEnv(".env"),
		agentreplay.WithExitHook(false),
	}
	if configFile != "" {
		base = append(base, agentreplay.WithConfigFile(configFile))
	}
	return agentreplay.New(append(base, opts...)...)
}

func ping(ctx context.Context) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	defer client.Shutdown(ctx)

	res := client.Ping(ctx)
	if !res.Success {
		return fmt.Errorf("%s unreachable after %dms: %s", client.Config().URL, res.LatencyMS, res.Error)
	}
	fmt.Printf("%s ok (version %s, %dms)\n", client.Config().URL, res.Version, res.LatencyMS)
	return nil
}

func showConfig() error {
	client, err := newClient(agentreplay.WithEnabled(false))
	if err != nil {
		return err
	}
	defer client.Shutdown(context.Background())

	cfg := client.Config()
	if cerr := client.Stats().ConfigError; cerr != nil {
		fmt.Printf("invalid: %v\n", cerr)
	}
	fmt.Println(cfg.String())
	return nil
}

func printUsage() {
	fmt.Println(`agentreplay - inspect and test the agent trace pipeline

Usage:
  agentreplay <command> [arguments]

Commands:
  ping                  Check that the ingestion server is reachable
  config                Print the resolved configuration (API key masked)
  emit [-n spans]       Send a synthetic agent trace and report delivery
  version               Print version information
  help                  Show this help message

Environment Variables:
  AGENTREPLAY_URL           Ingestion server URL
  AGENTREPLAY_API_KEY       API key sent as a bearer token
  AGENTREPLAY_TENANT_ID     Tenant routing identifier
  AGENTREPLAY_PROJECT_ID    Project routing identifier
  AGENTREPLAY_TRANSPORT     "http" (default) or "otlp"
  AGENTREPLAY_CONFIG_FILE   Optional YAML configuration file

A .env file in the working directory is read beneath the environment.`)
}
