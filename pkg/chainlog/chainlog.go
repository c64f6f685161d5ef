// Package chainlog is the structured-logging wrapper every other
// package in the module logs through: a logger handed in at
// construction, never global, built on go.uber.org/zap's
// SugaredLogger rather than the standard library logger's formatting
// weaknesses.
package chainlog

import (
	"go.uber.org/zap"
)

// Logger is the component-scoped logging handle. Every constructor in
// this module that needs to log takes one of these rather than
// reaching for a package-level logger.
type Logger struct {
	z *zap.SugaredLogger
}

// New builds a production JSON logger.
func New() (*Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z.Sugar()}, nil
}

// NewDevelopment builds a human-readable console logger, for local
// runs and tests.
func NewDevelopment() (*Logger, error) {
	z, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z.Sugar()}, nil
}

// Noop returns a logger that discards everything, for tests that
// don't care about log output.
func Noop() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

// With returns a child logger carrying the given key/value pairs on
// every subsequent call, for a per-component prefixed-logger pattern
// (e.g. component="pipeline").
func (l *Logger) With(kv ...interface{}) *Logger {
	return &Logger{z: l.z.With(kv...)}
}

func (l *Logger) Debugw(msg string, kv ...interface{}) { l.z.Debugw(msg, kv...) }
func (l *Logger) Infow(msg string, kv ...interface{})  { l.z.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...interface{})  { l.z.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...interface{}) { l.z.Errorw(msg, kv...) }

// Sync flushes buffered log entries; call before process exit.
func (l *Logger) Sync() error { return l.z.Sync() }
