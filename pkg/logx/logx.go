// Package logx initializes the structured logger shared by every
// sequencer core component, following the level-switch shape of the
// FILLY virtual machine's pkg/logger but generalized to accept any
// slog.Handler and to hand out component-scoped child loggers.
package logx

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

var global *slog.Logger

// Init configures the global logger from a level name ("debug", "info",
// "warn", "error") and writer. A JSON handler is used when json is true,
// a text handler otherwise.
func Init(level string, w io.Writer, json bool) error {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s", level)
	}

	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: slogLevel}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	global = slog.New(handler)
	slog.SetDefault(global)
	return nil
}

// Get returns the global logger, defaulting to slog.Default() if Init
// has not been called.
func Get() *slog.Logger {
	if global == nil {
		return slog.Default()
	}
	return global
}

// For returns a logger scoped to a named component, e.g. For("transport")
// or For("device[2]").
func For(component string) *slog.Logger {
	return Get().With("component", component)
}
