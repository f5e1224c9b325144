package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds the JSON logger every component receives and installs it as the
// slog default.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

func NewWithWriter(w io.Writer, level string) *slog.Logger {
	log := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: true,
	}))
	slog.SetDefault(log)
	return log
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
