package app

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nhle/task-reminders/internal/model"
)

// NewLogger builds the process logger from the log section of the config.
// Format is "text" or "json"; level is debug, info, warn or error.
func NewLogger(cfg model.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
}
