package transport

import (
	"fmt"
	"log/slog"
	"os"
)

// slogLogger adapts the standard library's structured logger to the
// Logger interface. It is the default when Options.Logger is unset: no
// single third-party logging library is common enough across the example
// pool to justify pulling one in here, and log/slog is itself the
// idiomatic standard-library answer to structured logging.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger returns a Logger backed by a new log/slog text handler
// writing to stderr.
func NewSlogLogger() Logger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(os.Stderr, nil))}
}

func (s *slogLogger) Debugf(format string, args ...any) { s.l.Debug(fmt.Sprintf(format, args...)) }
func (s *slogLogger) Warnf(format string, args ...any)  { s.l.Warn(fmt.Sprintf(format, args...)) }
func (s *slogLogger) Errorf(format string, args ...any) { s.l.Error(fmt.Sprintf(format, args...)) }
