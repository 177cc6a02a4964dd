package app

import (
	"log/slog"
	"os"
)

// NewLogger returns the process logger. Development runs the text handler at
// debug level; production defaults to info. Every record carries the
// environment so aggregated logs from several deployments stay separable.
func NewLogger(cfg *Config) *slog.Logger {
	env := "development"
	format := "pretty"
	level := slog.LevelDebug
	if cfg != nil {
		env = cfg.AppEnv
		format = cfg.LogFormat
		if cfg.IsProduction() {
			level = slog.LevelInfo
		}
	}

	opts := &slog.HandlerOptions{AddSource: true, Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With(slog.String("env", env))
}
