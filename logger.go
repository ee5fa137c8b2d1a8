package routeros

import (
	"log/slog"

	"github.com/rs/zerolog"
)

// Logger receives the client's structured log records. *slog.Logger
// satisfies it, and NewZerologLogger wraps a zerolog.Logger.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, args ...any)
	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, args ...any)
	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, args ...any)
	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, args ...any)
}

// defaultLogger is used when no LoggerOption is given.
func defaultLogger() Logger {
	return slog.Default()
}

// zerologLogger adapts a zerolog.Logger to Logger.
type zerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger returns a Logger writing through logger. Key-value pairs
// become zerolog fields.
func NewZerologLogger(logger zerolog.Logger) Logger {
	return &zerologLogger{logger: logger}
}

func (z *zerologLogger) Debug(msg string, args ...any) {
	z.log(z.logger.Debug(), msg, args)
}

func (z *zerologLogger) Info(msg string, args ...any) {
	z.log(z.logger.Info(), msg, args)
}

func (z *zerologLogger) Warn(msg string, args ...any) {
	z.log(z.logger.Warn(), msg, args)
}

func (z *zerologLogger) Error(msg string, args ...any) {
	z.log(z.logger.Error(), msg, args)
}

func (z *zerologLogger) log(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	if len(args)%2 == 1 {
		args = append(args, "!MISSING")
	}
	e.Fields(args).Msg(msg)
}
