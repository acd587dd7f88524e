// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServiceName is stamped on every log line.
const ServiceName = "speech-tone-service"

// Config holds logging configuration.
type Config struct {
	Level      string    // debug, info, warn, error, disabled
	Format     string    // json, console
	TimeFormat string    // defaults to RFC3339
	Out        io.Writer // defaults to os.Stdout
}

// DefaultConfig returns the production logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
	}
}

// Init replaces the global zerolog logger. Unknown levels fall back to
// info. Caller information is only attached at debug level.
func Init(cfg Config) {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if cfg.Out != nil {
		out = cfg.Out
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	ctx := zerolog.New(out).With().
		Timestamp().
		Str("service", ServiceName)
	if level <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	return log.Logger
}

// WithUtterance returns a logger with utterance context.
func WithUtterance(utteranceID string) zerolog.Logger {
	return log.With().
		Str("utteranceId", utteranceID).
		Logger()
}

// WithStream returns a logger with stream context.
func WithStream(transport, peer string) zerolog.Logger {
	return log.With().
		Str("transport", transport).
		Str("peer", peer).
		Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}
