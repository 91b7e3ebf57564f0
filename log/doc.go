// Package log provides the leveled, printf-style logger used by every
// ragcore package.
//
// # Log Levels
//
// Levels in order of increasing severity:
//
//   - LogLevelDebug: retrieval filters, prompt sizes, per-phase detail
//   - LogLevelInfo: one line per answered question
//   - LogLevelWarn: retrieval and generation failures
//   - LogLevelError: failures of the process itself
//   - LogLevelNone: disables all logging output
//
// ParseLevel maps configuration strings to levels.
//
// # Implementations
//
//   - DefaultLogger writes through the standard library log package with a
//     "[ragcore] " prefix.
//   - GologLogger wraps a github.com/kataras/golog logger. The server and CLI
//     use it for text output.
//   - ZapLogger wraps a go.uber.org/zap logger for JSON output.
//   - NoOpLogger discards everything and is handy in tests.
//
// # Example Usage
//
//	logger := log.NewGologLoggerWithLevel("[ragcore] ", log.LogLevelDebug)
//	log.SetDefaultLogger(logger)
//
//	log.Info("collection %s holds %d chunks", name, n)
//
// Components take a Logger through their options and fall back to the
// package-level logger returned by GetDefaultLogger.
package log
