package petal

import (
	"log/slog"

	"github.com/gogpu/petal/internal/logx"
)

// SetLogger configures the logger for petal and all its sub-packages.
// By default, petal produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by petal:
//   - [slog.LevelDebug]: pass and program detail (fused stages, compile keys)
//   - [slog.LevelInfo]: lifecycle events (device opened, context closed)
//   - [slog.LevelWarn]: cache trims, out-of-memory retries, device loss
//
// Example:
//
//	// Enable debug-level logging for full diagnostics:
//	petal.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
//
// Components created before the call keep the logger they were created
// with.
func SetLogger(l *slog.Logger) {
	logx.Set(l)
}

// Logger returns the current logger used by petal.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logx.L()
}
