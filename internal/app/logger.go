package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Production and LOG_FORMAT=json get the
// JSON handler; everything else gets human-readable text. Both carry source
// positions so movement-path warnings point at the emitting line.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil && (cfg.LogFormat == "json" || cfg.IsProduction()) {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
