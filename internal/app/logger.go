package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Production emits JSON at info level,
// everything else gets a human-readable text handler at debug level unless
// LOG_FORMAT overrides the format.
func NewLogger(cfg *Config) *slog.Logger {
	level := slog.LevelDebug
	format := "pretty"
	if cfg != nil {
		format = cfg.LogFormat
		if cfg.IsProduction() {
			level = slog.LevelInfo
		}
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: true}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
