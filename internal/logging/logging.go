// Package logging sets up the facilitator's structured logger and a
// couple of context helpers used by the HTTP middleware.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

type contextKey string

const loggerKey contextKey = "logger"

// Config controls the process-wide logger.
type Config struct {
	Level       string // debug, info, warn, error
	Pretty      bool   // console-writer output, for local development
	Environment string
}

// New builds the base logger all requests derive from.
func New(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var writer io.Writer = os.Stdout
	if cfg.Pretty {
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	return zerolog.New(writer).With().
		Timestamp().
		Str("service", "x402-facilitator").
		Str("environment", cfg.Environment).
		Logger()
}

// WithContext attaches a logger (typically one enriched with a request
// ID) to ctx.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger attached by WithContext, or a no-op
// logger if none was attached.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return zerolog.Nop()
	}
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
