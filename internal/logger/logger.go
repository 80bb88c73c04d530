// Package logger builds the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/tacticore/tacticore/internal/config"
)

// New builds a JSON slog.Logger on stdout with a "service" attribute
// on every record. At debug level records also carry their source
// position, which helps when tracing a stuck objective through the
// dispatch loop.
func New(cfg config.Logging) *slog.Logger {
	level := Level(cfg.Level)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	return slog.New(handler).With("service", cfg.Service)
}

// Level maps a config string to a slog.Level, defaulting to Info.
func Level(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
