// Package logging provides structured logging for the Gray Logic supervisor.
//
// It wraps log/slog with the defaults every component shares:
//
//   - JSON output for production, text for development
//   - service and version fields on all entries
//   - level filtering (debug, info, warn, error)
//   - durations written as "2s" rather than nanoseconds
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
//	logger := logging.New(cfg.Logging, version)
//	sup.SetLogger(logger.With("component", "supervisor"))
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
