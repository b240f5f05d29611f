package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Config contains logger configuration.
type Config struct {
	Level   string
	File    string
	Console bool
}

// ParseLevel parses a level string, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a logger writing to the configured file and/or console.
// The returned closer releases the log file, if one was opened.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	var writers []io.Writer
	var closer io.Closer

	if cfg.File != "" {
		dir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		closer = f
		writers = append(writers, f)
	}

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	var writer io.Writer
	if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(writer).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	return logger, closer, nil
}
