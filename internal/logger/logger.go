// Package logger builds the structured loggers used across the toolgate service.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Log format names accepted by Setup.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// serviceName tags every log record emitted by this module.
const serviceName = "toolgate"

// Config holds the options used to build a logger.
type Config struct {
	// Level is the minimum level to emit ("debug", "info", "warn", "error").
	Level string
	// Format selects the handler ("text" or "json").
	Format string
	// Output is where records are written. Defaults to os.Stderr.
	Output io.Writer
}

// New builds a slog.Logger from the given configuration.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler).With("service", serviceName)
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(Config{Level: "info", Format: FormatText})
)

// SetDefault replaces the package default logger.
func SetDefault(l *slog.Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Default returns the package default logger.
func Default() *slog.Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Named returns the default logger tagged with a component name.
func Named(component string) *slog.Logger {
	return Default().With("component", component)
}
