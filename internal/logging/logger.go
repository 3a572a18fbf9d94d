package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger.
type Logger struct {
	zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level  string
	Format string // "json" or "console"
	Output io.Writer
}

// New creates a new logger instance.
func New(cfg Config) *Logger {
	var level zerolog.Level
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).Level(level).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(output).Level(level).With().Timestamp().Logger()
	}

	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithComponent creates a child logger with a component field.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With().Str("component", component).Logger(),
	}
}
