package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Production defaults to JSON output
// for log shippers; elsewhere LOG_FORMAT picks the handler, falling back
// to human-readable text.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg.IsProduction() || (cfg != nil && cfg.LogFormat == "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
