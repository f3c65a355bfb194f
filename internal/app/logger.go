package app

import (
	"io"

	"sentinel-lab/internal/config"
	"sentinel-lab/pkg/logger"
)

// NewLogger builds the process logger from config. Production always logs JSON.
func NewLogger(cfg *config.Config, out io.Writer) *logger.Logger {
	lc := logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		TimeFormat: cfg.Logger.TimeFormat,
		Output:     out,
	}
	if cfg.App.Environment == "production" {
		lc.Format = "json"
	}
	if cfg.App.Debug {
		lc.Level = "debug"
	}
	return logger.New(lc)
}
