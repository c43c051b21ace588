// Package logger provides JSON structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging surface handed to components. Satisfied by
// zerolog-backed instances created with New.
type Logger interface {
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	Fatal() *zerolog.Event
	With() zerolog.Context
}

// Config controls logger construction.
type Config struct {
	Level  string `json:"level"`
	Debug  bool   `json:"debug"`
	Output string `json:"output"`
}

type logAdapter struct {
	zerolog.Logger
}

func (l *logAdapter) With() zerolog.Context {
	return l.Logger.With()
}

// New builds a logger from config. Unknown levels fail; an empty config
// produces an info-level JSON logger on stdout.
func New(config Config) (Logger, error) {
	var output io.Writer = os.Stdout

	if config.Output == "stderr" {
		output = os.Stderr
	}

	level := zerolog.InfoLevel

	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return nil, err
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339

	zl := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &logAdapter{zl}, nil
}

// NewWithComponent returns a child logger tagged with a component field.
func NewWithComponent(parent Logger, component string) Logger {
	return &logAdapter{parent.With().Str("component", component).Logger()}
}

// NewTestLogger returns a logger suitable for tests: debug level,
// writing to w (pass io.Discard to silence).
func NewTestLogger(w io.Writer) Logger {
	zl := zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	return &logAdapter{zl}
}
