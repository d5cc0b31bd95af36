// Package logging provides structured logging for Greeter Core.
//
// It wraps log/slog so that every component logs with the same handler,
// level filter and default fields (service, version).
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
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8000)
//	logger.With("component", "ingest").Warn("stream dropped", "error", err)
//
// Never log the hub token or the assistant API key.
package logging
