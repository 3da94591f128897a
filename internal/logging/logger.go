// Package logging builds the zerolog loggers shared by the monitor and notifier processes.
//
// Loggers are constructed once in main and passed down explicitly; nothing in this
// package holds a global logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: trace, debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
	// File appends to a file instead of stderr when set.
	File string `yaml:"file"`
	// MaxDuplicates bounds how many identical consecutive records are suppressed. Zero disables suppression.
	MaxDuplicates int `yaml:"max_duplicates"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		Format:        "json",
		MaxDuplicates: 50,
	}
}

// New builds a logger for component. The returned closer releases the log file, if any.
func New(cfg Config, component string) (zerolog.Logger, io.Closer, error) {
	var (
		output io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), closer, err
		}
		output = f
		closer = f
	}
	return NewWithWriter(cfg, component, output), closer, nil
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(cfg Config, component string, w io.Writer) zerolog.Logger {
	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "2006-01-02 15:04:05", NoColor: true}
	}
	logger := zerolog.New(w).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
	if cfg.MaxDuplicates > 0 {
		logger = logger.Hook(NewDuplicateHook(cfg.MaxDuplicates))
	}
	return logger
}

// ParseLevel converts a level name to zerolog.Level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
