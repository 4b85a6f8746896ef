// Package logger wraps zerolog with the service-wide defaults: service name,
// version and environment stamped on every line, console output in
// development, JSON elsewhere.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level       string
	Environment string
	ServiceName string
	Version     string
}

// Logger embeds a zerolog.Logger so call sites use the zerolog API directly.
type Logger struct {
	zerolog.Logger
}

// New builds the process logger from config.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var out = zerolog.New(os.Stdout)
	if cfg.Environment == "development" || cfg.Environment == "local" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	l := out.Level(level).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", cfg.Version).
		Str("environment", cfg.Environment).
		Logger()

	return &Logger{Logger: l}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}
