// Package logging provides structured logging for the device, admin console
// and telemetry sink binaries.
//
// This package wraps Go's standard log/slog package:
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "terminal-device", "1.0.0")
//	logger.Info("publishing message", "topic", topic)
//
// # Security
//
// Never log device tokens, relay access tokens or private key material.
package logging
