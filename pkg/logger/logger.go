// Package logger assembles the slog loggers used across cumdach: pretty
// terminal output for commands, line-oriented JSON for audit files, plain
// text otherwise, with fan-out when one record must reach both.
package logger

import (
	"io"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

type settings struct {
	level   slog.Level
	pretty  bool
	json    bool
	writers []io.Writer
}

func (s *settings) writer() io.Writer {
	switch len(s.writers) {
	case 0:
		return os.Stdout
	case 1:
		return s.writers[0]
	}
	return io.MultiWriter(s.writers...)
}

// New assembles a *slog.Logger. With no options it logs Info and above as
// plain text to os.Stdout.
func New(opts ...Option) *slog.Logger {
	s := settings{level: slog.LevelInfo}
	for _, opt := range opts {
		opt(&s)
	}

	w := s.writer()
	switch {
	case s.pretty:
		return slog.New(charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmLevel(s.level),
			ReportTimestamp: true,
		}))
	case s.json:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: s.level}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: s.level}))
	}
}

// Nop returns a logger that drops everything; the zero-value choice for
// library options that default to silent.
func Nop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// charmLevel translates slog levels onto the pretty handler's scale.
func charmLevel(level slog.Level) charmlog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmlog.DebugLevel
	case level <= slog.LevelInfo:
		return charmlog.InfoLevel
	case level <= slog.LevelWarn:
		return charmlog.WarnLevel
	default:
		return charmlog.ErrorLevel
	}
}
