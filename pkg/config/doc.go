// Package config holds the agentreplay client configuration.
//
// Values are resolved in the following order, later sources winning:
// built-in defaults, an optional YAML file, optional .env files, the process
// environment, and finally options applied by the caller.
//
// Durations accept Go syntax ("5s", "250ms") or a bare number of seconds
// ("5", "0.5").
package config
