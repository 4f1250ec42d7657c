// Package logging provides structured logging for the Lutron bridge.
//
// This package wraps Go's standard log/slog package so every component
// logs through the same handler with the same default fields.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connecting to controller", "host", cfg.Lutron.Host)
//	logger.Error("connection lost", "error", err)
//
// The Logger's Debug/Info/Warn/Error methods take a message and
// alternating key-value pairs, which is the logging contract the lip
// and bridge packages accept.
//
// # Security
//
// Never log secrets, tokens, or passwords. The integration password in
// particular must not appear in log output.
package logging
