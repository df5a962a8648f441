package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// CtxLogger is a child logger that can still be narrowed further with
// WithTenant, e.g. log.WithComponent("eventstream").WithTenant(tenant).
type CtxLogger struct {
	zerolog.Logger
}

// WithTenant narrows a context logger to a single tenant, the
// partitioning key every store and handler operates under.
func (c CtxLogger) WithTenant(tenant string) *zerolog.Logger {
	l := c.Logger.With().Str("tenant", tenant).Logger()
	return &l
}

// WithComponent creates a child logger with component field
func WithComponent(component string) CtxLogger {
	return CtxLogger{Logger.With().Str("component", component).Logger()}
}

// WithTenant creates a child logger scoped to a single tenant, the
// partitioning key every store and handler operates under.
func WithTenant(tenant string) zerolog.Logger {
	return Logger.With().Str("tenant", tenant).Logger()
}

// WithInterface creates a child logger tagged with the (interface,
// method) pair a handler is processing.
func WithInterface(iface, method string) CtxLogger {
	return CtxLogger{Logger.With().Str("interface", iface).Str("method", method).Logger()}
}

// WithMessageCID creates a child logger tagged with a message's CID,
// used once a descriptor has been hashed so subsequent log lines for
// the same message correlate without repeating its full body.
func WithMessageCID(cid string) CtxLogger {
	return CtxLogger{Logger.With().Str("messageCid", cid).Logger()}
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
