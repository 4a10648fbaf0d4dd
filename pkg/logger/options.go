package logger

import (
	"io"
	"log/slog"
)

// Option adjusts how New assembles a logger.
type Option func(*settings)

// WithDebug lowers the threshold to Debug when on; otherwise Info.
func WithDebug(on bool) Option {
	return func(s *settings) {
		s.level = slog.LevelInfo
		if on {
			s.level = slog.LevelDebug
		}
	}
}

// WithPretty switches to the charmbracelet/log handler: colorized,
// human-first output for interactive terminals.
func WithPretty(on bool) Option {
	return func(s *settings) { s.pretty = on }
}

// WithJSON switches to slog's JSON handler, one object per line. The prune
// audit log depends on this staying line-oriented.
func WithJSON(on bool) Option {
	return func(s *settings) { s.json = on }
}

// WithWriter directs output to w. Passing several writers sends every line
// to all of them. Defaults to os.Stdout.
func WithWriter(w ...io.Writer) Option {
	return func(s *settings) { s.writers = w }
}
