// Package logger configures the application's structured logging.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls log verbosity and output format.
type Config struct {
	Level  string
	Pretty bool
}

// New builds the root logger. Unknown levels fall back to info. Pretty
// enables human-readable console output for development.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}
