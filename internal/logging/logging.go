package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"erp_wa/internal/config"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process logger. Console output goes to stderr; when a log file is
// configured the same events are also written there with size based rotation.
func New(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}
	}

	if cfg.File != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
