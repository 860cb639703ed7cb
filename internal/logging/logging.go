// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/KafClaw/wagate/internal/config"
)

// Setup builds the root logger from config and installs it as the global
// zerolog logger. Format "auto" picks the console writer on a terminal and
// JSON otherwise.
func Setup(cfg config.LogConfig) zerolog.Logger {
	return setup(cfg, os.Stdout, isatty.IsTerminal(os.Stdout.Fd()))
}

func setup(cfg config.LogConfig, out io.Writer, terminal bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	w := out
	switch strings.ToLower(cfg.Format) {
	case "console", "text":
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
	default:
		if terminal {
			w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Str("app", "wagate").Logger()
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger
	return logger
}

// Component returns a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
