// Package telemetry wraps log.Logger with level-gated helpers so callers
// get Debugf/Infof/Warnf/Errorf without reaching for a third logging
// dependency the rest of this module has no other use for. A Logger wraps
// any *log.Logger (including log.Default()), so a caller that already
// configures its own output/prefix/flags keeps that configuration.
package telemetry

import (
	"log"
	"os"
)

// Level gates which calls actually reach the underlying *log.Logger.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelSilent discards everything; used by tests that want a Logger
	// value without writing to stderr.
	LevelSilent
)

// Logger is a small level-gated wrapper around *log.Logger. The zero value
// is not usable; construct with New or Discard.
type Logger struct {
	out   *log.Logger
	level Level
}

// New wraps out, logging only messages at or above level.
func New(out *log.Logger, level Level) *Logger {
	if out == nil {
		out = log.Default()
	}
	return &Logger{out: out, level: level}
}

// Discard returns a Logger that writes nothing, for tests and callers that
// never configured one.
func Discard() *Logger {
	return &Logger{out: log.New(os.Stderr, "", 0), level: LevelSilent}
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if l == nil || level < l.level {
		return
	}
	l.out.Printf(format, args...)
}

// Debugf logs at LevelDebug.
func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }

// Infof logs at LevelInfo.
func (l *Logger) Infof(format string, args ...any) { l.logf(LevelInfo, format, args...) }

// Warnf logs at LevelWarn.
func (l *Logger) Warnf(format string, args ...any) { l.logf(LevelWarn, format, args...) }

// Errorf logs at LevelError.
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }
