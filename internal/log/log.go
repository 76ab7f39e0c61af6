// Package log is a thin, gated wrapper around logrus.
//
// The engine is a library embedded in applications that own the terminal, so
// logging is off unless the host enables it explicitly (the enable_logs config
// option). When disabled every emission is discarded without formatting cost.
package log

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var enabled atomic.Bool

// Setup configures the logging backend. When enable is false all subsequent
// emissions are silently discarded.
func Setup(enable bool) {
	enabled.Store(enable)
	if !enable {
		return
	}
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(logrus.DebugLevel)
}

// SetOutput redirects log output, typically to a file when the host
// application owns stderr.
func SetOutput(w io.Writer) {
	logrus.SetOutput(w)
}

// Enabled reports whether logging is active.
func Enabled() bool {
	return enabled.Load()
}

func Debugf(format string, args ...interface{}) {
	if enabled.Load() {
		logrus.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if enabled.Load() {
		logrus.Infof(format, args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if enabled.Load() {
		logrus.Warnf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if enabled.Load() {
		logrus.Errorf(format, args...)
	}
}
