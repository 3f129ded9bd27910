// Package logging builds component-scoped structured loggers on top of
// log/slog, the same convention the rest of this codebase's ambient stack
// uses for errors and configuration: a single process-wide handler with
// per-component child loggers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	level   = new(slog.LevelVar)
	handler slog.Handler
)

// Init configures the process-wide log handler. format is "json" or "text".
func Init(levelName, format string, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	level.Set(parseLevel(levelName))
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
}

func parseLevel(name string) slog.Level {
	switch name {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARN", "warn", "WARNING", "warning":
		return slog.LevelWarn
	case "ERROR", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ForComponent returns a logger tagged with component=name. Falls back to
// a default stderr text handler if Init was never called.
func ForComponent(name string) *slog.Logger {
	mu.Lock()
	h := handler
	mu.Unlock()

	if h == nil {
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h).With("component", name)
}

// SetLevel adjusts the process-wide minimum log level at runtime.
func SetLevel(name string) {
	level.Set(parseLevel(name))
}
