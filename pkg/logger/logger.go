package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global logger. Entries are written to stdout in the
// requested format and mirrored, as JSON, into the recent-log buffer.
func Setup(level, format string) {
	log.Logger = New(os.Stdout, level, format)
}

// New builds a logger writing to out. format is "json" or "console".
func New(out io.Writer, level, format string) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(level))

	var baseOutput = out
	if strings.ToLower(format) == "console" {
		baseOutput = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	// ConsoleWriter consumes JSON too, so both sinks get the raw event.
	output := zerolog.MultiLevelWriter(baseOutput, NewLogBufferWriter(nil))

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// ParseLevel converts a level name to zerolog.Level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Get returns a logger with the given component name
func Get(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Component derives a component logger from parent.
func Component(parent zerolog.Logger, component string) zerolog.Logger {
	return parent.With().Str("component", component).Logger()
}
