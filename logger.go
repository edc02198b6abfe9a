package bundle

import (
	"log/slog"

	"github.com/gogpu/bundle/allocator"
)

// SetLogger configures the logger shared by bundle and its allocator
// package. By default nothing is logged; pass nil to restore that.
// Bundles created with WithLogger keep their own logger.
//
// SetLogger is safe for concurrent use.
//
// Log levels used by bundle:
//   - [slog.LevelDebug]: swap details, forced completions, allocator adjustments
//   - [slog.LevelInfo]: policy changes and teardown
//   - [slog.LevelWarn]: reinstated swappers after a failed swap, releases after close
//   - [slog.LevelError]: a failed swap that closed the bundle
//
// Example:
//
//	bundle.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	allocator.SetLogger(l)
}

// Logger returns the current package logger. It never returns nil.
func Logger() *slog.Logger {
	return allocator.Logger()
}
