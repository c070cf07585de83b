package cmd

import (
	"fmt"
	"io"

	"github.com/conneroisu/ocrwatch/internal/config"
	"github.com/conneroisu/ocrwatch/internal/logging"
)

// newLogger builds the process logger. Records go to out, and additionally
// to a dated JSON file when log.dir is set. The returned close function
// releases the file.
func newLogger(cfg config.LogConfig, out io.Writer) (logging.Logger, func() error, error) {
	level, ok := logging.ParseLevel(cfg.Level)
	if !ok {
		level = logging.LevelInfo
	}

	console := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Format,
		Output: out,
	})
	if cfg.Dir == "" {
		return console, func() error { return nil }, nil
	}

	file, err := logging.NewFileLogger(&logging.LoggerConfig{Level: level, Format: "json"}, cfg.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log directory %s: %w", cfg.Dir, err)
	}
	return logging.NewMultiLogger(console, file), file.Close, nil
}
