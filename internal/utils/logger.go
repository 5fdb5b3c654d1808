package utils

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog with JSON output; pipeline stages attach structured
// fields (submission_id, escalation_id) on every call site.
type Logger struct {
	*slog.Logger
}

func NewLogger(level string) *Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	return &Logger{Logger: slog.New(handler)}
}

// Fatal logs at error level and exits; only startup wiring should use it.
func (l *Logger) Fatal(msg string, args ...any) {
	l.Error(msg, args...)
	os.Exit(1)
}
