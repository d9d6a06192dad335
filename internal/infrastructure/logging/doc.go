// Package logging provides structured logging for the FS20 gateway.
//
// This package wraps Go's standard log/slog package and adds a rotating
// log file (lumberjack) so a headless gateway keeps a bounded history of
// every frame it sent and received.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "both"     # stdout, stderr, file, both
//	  file:
//	    path: "./logs/fs20gateway.log"
//	    max_size: 10     # MB before rotation
//	    max_backups: 5
//	    max_age: 28      # days
//	    compress: true
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	defer logger.Close()
//	logger.Info("sent", "device", "lamp1", "command", "on")
//
// Never log secrets, tokens or passwords.
package logging
