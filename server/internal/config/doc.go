// Package config loads the umpire configuration from a YAML file.
//
// Config fields:
//   - Server.Port: port for the check API (default 5000)
//   - Server.ForceHTTPS: redirect plain-HTTP requests to https
//   - Server.Auth: "basic" (API key as basic-auth password) or "none"
//   - Backends.Default: graphite | librato | prometheus (default graphite)
//   - Backends.Timeout: per-call backend timeout (default 10s)
//   - Telemetry: optional OTLP/HTTP trace export
//   - Log: slog level and handler format
//
// Secrets are never stored in the file: each one is referenced by the name
// of the environment variable that holds it (key_env, token_env, ...).
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads the file on write and hands the new Config to fn.
package config
