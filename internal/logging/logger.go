// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides dnswall's structured, leveled logger. Every
// other package logs through here rather than the standard library's
// log package, so log level, component tagging and an optional syslog
// sink stay centrally configurable.
package logging

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
)

// Logger wraps charmbracelet/log with dnswall's component-tagging and
// error-attaching conventions.
type Logger struct {
	inner *charmlog.Logger
}

// Config controls how a Logger is constructed.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Output io.Writer
	// Syslog, when non-nil and Enabled, mirrors every log line to an
	// external syslog collector in addition to Output.
	Syslog *SyslogConfig
}

// DefaultConfig returns sane defaults: info level, writing to stderr.
func DefaultConfig() Config {
	return Config{Level: "info", Output: os.Stderr}
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	writers := []io.Writer{out}
	if cfg.Syslog != nil && cfg.Syslog.Enabled {
		if w, err := NewSyslogWriter(*cfg.Syslog); err == nil {
			writers = append(writers, w)
		}
	}
	var w io.Writer = out
	if len(writers) > 1 {
		w = io.MultiWriter(writers...)
	}

	inner := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		Level:           parseLevel(cfg.Level),
	})

	return &Logger{inner: inner}
}

func parseLevel(s string) charmlog.Level {
	switch s {
	case "debug":
		return charmlog.DebugLevel
	case "warn":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// WithComponent returns a child Logger that tags every line with
// component=name, e.g. logging.WithComponent("dnsforwarder").
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{inner: l.inner.With("component", name)}
}

// WithError returns a child Logger that tags every line with the
// given error, chaining with WithComponent the way flywall's call
// sites do: logging.WithComponent("x").WithError(err).Error("...").
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{inner: l.inner.With("error", err.Error())}
}

func (l *Logger) Debug(msg string, keyvals ...any) { l.inner.Debug(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...any)  { l.inner.Info(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...any)  { l.inner.Warn(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...any) { l.inner.Error(msg, keyvals...) }

var defaultLogger atomic.Pointer[Logger]
var once sync.Once

// Default returns the process-wide default Logger, lazily initialized
// with DefaultConfig.
func Default() *Logger {
	once.Do(func() {
		defaultLogger.Store(New(DefaultConfig()))
	})
	return defaultLogger.Load()
}

// SetDefault installs l as the process-wide default Logger.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// WithComponent is a package-level convenience equivalent to
// Default().WithComponent(name), used pervasively by callers that
// don't hold their own Logger reference.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}

// Package-level leveled logging against the default Logger, matching
// the printf-style call sites used throughout dnswall's non-hot-path
// code (e.g. config load, startup).
func Debugf(format string, args ...any) { Default().inner.Debugf(format, args...) }
func Infof(format string, args ...any)  { Default().inner.Infof(format, args...) }
func Warnf(format string, args ...any)  { Default().inner.Warnf(format, args...) }
func Errorf(format string, args ...any) { Default().inner.Errorf(format, args...) }

func Debug(msg string, keyvals ...any) { Default().Debug(msg, keyvals...) }
func Info(msg string, keyvals ...any)  { Default().Info(msg, keyvals...) }
func Warn(msg string, keyvals ...any)  { Default().Warn(msg, keyvals...) }
func Error(msg string, keyvals ...any) { Default().Error(msg, keyvals...) }
