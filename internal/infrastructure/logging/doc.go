// Package logging provides structured logging for the tool management service.
//
// It wraps log/slog so every record carries the service name and build
// version, and so packages share one level and format.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("registry loaded", "machines", 12)
//	logger.Component("adambox").Warn("read failed", "machine", "5701", "error", err)
//
// Never log passwords, tokens or the Monitor MI DSN.
package logging
