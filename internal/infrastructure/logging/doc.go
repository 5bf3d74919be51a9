// Package logging provides structured logging for the videohub bridge.
//
// It wraps log/slog with JSON or text output, level filtering and the
// default fields service and version on every entry.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	session := logger.Component("videohub")
//	session.Info("connected", "address", addr)
//
// *Logger satisfies the small Logger interfaces of the bridge, backend and
// mqtt packages.
package logging
