package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// BuildLogger constructs a slog.Logger from logging configuration.
func BuildLogger(cfg LoggingConfig) (*slog.Logger, error) {
	return buildLogger(cfg, os.Stdout)
}

func buildLogger(cfg LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unsupported log level %q", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Structured {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}
