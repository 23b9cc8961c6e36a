// Package logging provides structured logging for the obakv storage engine.
//
// # Overview
//
// The logging package provides a structured logging interface with support for:
//
//   - Multiple log levels (debug, info, warn, error)
//   - Text and JSON output formats
//   - Transaction id tagging
//   - Field-based contextual logging
//
// # Creating a Logger
//
// Create a logger with configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "/var/log/obakv/obakv.log",
//	})
//
// Or use defaults:
//
//	logger := logging.NewDefault() // Info level, text format, stdout
//
// For testing, use a no-op logger or a buffer:
//
//	logger := logging.NewNop()
//	logger := logging.NewWithWriter(&buf, logging.LevelDebug, logging.FormatJSON)
//
// # Structured Logging
//
// Add key-value pairs to log entries:
//
//	logger.Info("map grown",
//	    "path", "/data/store.obk",
//	    "from", 65536,
//	    "to", 131072,
//	)
//
// Derived loggers carry fields into every entry:
//
//	txnLog := logger.WithTxn(42).WithFields("dbi", 3)
//	txnLog.Debug("commit") // ... [debug] commit txn=42 dbi=3
//
// # Output Formats
//
// Text format:
//
//	2026-02-18T10:30:00Z [info] map grown txn=42 from=65536 to=131072
//
// JSON format:
//
//	{"ts":"2026-02-18T10:30:00Z","level":"info","msg":"map grown","txn":42,"from":65536,"to":131072}
//
// Fields are written in the order they were added; a key set again keeps
// its first position.
package logging
