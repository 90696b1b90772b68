package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"backlogagent/internal/domain"
)

// ParseLevel maps debug, info, warn and error to slog levels. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("infra.logLevel %q unknown", s)
}

// NewLogger builds the process logger from infra settings. Unknown levels fall back to info.
func NewLogger(w io.Writer, infra domain.InfraConfig) *slog.Logger {
	level, _ := ParseLevel(infra.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(infra.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
