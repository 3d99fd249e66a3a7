// Package logger is the process-wide structured logger. Call sites pass
// alternating key/value pairs, which become logrus fields.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu            sync.RWMutex
	defaultLogger *logrus.Logger
)

// Initialize sets up the global logger with the specified level and format
func Initialize(level, format string) {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.ToLower(format) == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

// Get returns the default logger
func Get() *logrus.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil {
		Initialize("info", "text")
		return Get()
	}
	return l
}

// fields turns alternating key/value pairs into logrus fields.
// A trailing key without a value is kept under "arg".
func fields(args []any) logrus.Fields {
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			f["arg"] = args[i]
			break
		}
		f[fmt.Sprint(args[i])] = args[i+1]
	}
	return f
}

// With returns an entry carrying the given key/value pairs.
func With(args ...any) *logrus.Entry {
	return Get().WithFields(fields(args))
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	With(args...).Debug(msg)
}

// Info logs an info message
func Info(msg string, args ...any) {
	With(args...).Info(msg)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	With(args...).Warn(msg)
}

// Error logs an error message
func Error(msg string, args ...any) {
	With(args...).Error(msg)
}

// ExternalCall logs an outgoing platform call (debug log for external resources)
func ExternalCall(service, operation string, args ...any) {
	With(args...).WithFields(logrus.Fields{"service": service, "operation": operation}).Debug("→ External service call")
}

// ExternalResult logs the outcome of a platform call. Failures log at warn.
func ExternalResult(service, operation string, err error, args ...any) {
	e := With(args...).WithFields(logrus.Fields{"service": service, "operation": operation})
	if err != nil {
		e.WithError(err).Warn("← External service call failed")
		return
	}
	e.Debug("← External service call succeeded")
}
