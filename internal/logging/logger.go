// Package logging configures the structured logger used throughout the
// engine, the way ws/internal/single/monitoring/logger.go configures it.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level and output format.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, pretty
}

// New builds a zerolog.Logger tagged with the service name, timestamped and
// with caller info, matching ws's NewLogger.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "tardis").
		Logger()
}

// RecoverPanic is installed as the first deferred call in every
// long-running background goroutine (fetch worker CPU monitor and per-slice
// fetches, replay driver goroutines, live feed reader; the fetch worker's
// dispatch loop uses its own recover) so a panic is logged with a stack trace instead of
// crashing the process, mirroring the teacher's worker pool and consume
// loop panic recovery.
func RecoverPanic(logger zerolog.Logger, component string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack())).
			Str("component", component)
		for k, v := range fields {
			event = event.Interface(k, v)
		}
		event.Msg("panic recovered")
	}
}
