package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/edvin/tenantvault/internal/config"
)

// NewLogger creates the process logger: JSON to stdout with a timestamp and
// the service name, at the level configured by LOG_LEVEL.
func NewLogger(cfg *config.Config) zerolog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg *config.Config) zerolog.Logger {
	ctx := zerolog.New(w).With().Timestamp()

	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	if cfg.JobBackend != "" {
		ctx = ctx.Str("job_backend", cfg.JobBackend)
	}

	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
