package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns a structured logger: text output for local development, JSON
// everywhere else.
func New(env string) *slog.Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(env string, w io.Writer) *slog.Logger {
	switch env {
	case "", "development", "local":
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})).
			With("service", "fundpool", "env", env)
	}
}
