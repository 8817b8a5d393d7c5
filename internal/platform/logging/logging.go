package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/animus-labs/simgate/internal/platform/env"
)

type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

func ConfigFromEnv() Config {
	return Config{
		Level:  env.String("LOG_LEVEL", "info"),
		Format: env.String("LOG_FORMAT", "json"),
	}
}

// New builds the process logger. Services log JSON to stdout unless
// LOG_FORMAT=text is requested for local runs.
func New(cfg Config) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

func NewWithWriter(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
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

// Discard is used by tests and tools that must stay quiet.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
