// Package observability holds the process logger, Sentry reporting and the
// request-level echo middleware built on them.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns the process logger. Production emits JSON at info level;
// every other environment gets human-readable text at debug level.
func NewLogger(env string) *slog.Logger {
	return newLogger(env, os.Stdout)
}

func newLogger(env string, w io.Writer) *slog.Logger {
	if isProd(env) {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func isProd(env string) bool {
	switch strings.ToLower(env) {
	case "prod", "production":
		return true
	}
	return false
}
