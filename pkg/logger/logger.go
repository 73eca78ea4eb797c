// Package logger provides the shared structured logger for the settlement layer.
package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog logger with the field-chaining API used across the
// codebase. A Logger is immutable; WithField and friends return copies.
type Logger struct {
	zl  zerolog.Logger
	err error
}

// New creates a logger for the named component at the given level. Unknown
// levels fall back to info.
func New(component, level string) *Logger {
	lvl, parseErr := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if parseErr != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zl := zerolog.New(os.Stderr).Level(lvl).With().
		Timestamp().
		Str("component", component).
		Logger()
	return &Logger{zl: zl}
}

// NewDefault creates an info-level logger for the named component.
func NewDefault(component string) *Logger {
	return New(component, "info")
}

// WithField returns a logger with an extra field attached to every event.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger(), err: l.err}
}

// WithError returns a logger that attaches err to every event.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl, err: err}
}

func (l *Logger) event(e *zerolog.Event, msg string) {
	if l.err != nil {
		e = e.Err(l.err)
	}
	e.Msg(msg)
}

func (l *Logger) eventf(e *zerolog.Event, format string, args ...interface{}) {
	if l.err != nil {
		e = e.Err(l.err)
	}
	e.Msgf(format, args...)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string) { l.event(l.zl.Debug(), msg) }

// Info logs at info level.
func (l *Logger) Info(msg string) { l.event(l.zl.Info(), msg) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string) { l.event(l.zl.Warn(), msg) }

// Error logs at error level.
func (l *Logger) Error(msg string) { l.event(l.zl.Error(), msg) }

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...interface{}) { l.eventf(l.zl.Debug(), format, args...) }

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...interface{}) { l.eventf(l.zl.Info(), format, args...) }

// Warnf logs a formatted message at warn level.
func (l *Logger) Warnf(format string, args ...interface{}) { l.eventf(l.zl.Warn(), format, args...) }

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...interface{}) { l.eventf(l.zl.Error(), format, args...) }
