// Package klog provides structured kernel tracing. Operator-facing output
// such as the new/free env lines goes through kfmt; klog carries the debug
// trail of trap entries, scheduling decisions and env lifecycle events.
package klog

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var log = newLogger(os.Stderr)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.Out = out
	l.Level = logrus.WarnLevel
	l.Formatter = &logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    true,
	}
	return l
}

// Configure sets the tracing level (one of logrus' level names) and the
// writer that trace lines are sent to. A nil writer keeps the current one.
func Configure(level string, out io.Writer) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	log.SetLevel(lvl)
	if out != nil {
		log.SetOutput(out)
	}
	return nil
}

// Logger returns the kernel trace logger.
func Logger() *logrus.Logger {
	return log
}

// CPU returns an entry tagged with the given CPU index.
func CPU(id int) *logrus.Entry {
	return log.WithField("cpu", id)
}

// Env returns an entry tagged with the given CPU index and env id.
func Env(cpuID int, envID uint32) *logrus.Entry {
	return log.WithFields(logrus.Fields{
		"cpu": cpuID,
		"env": envIDField(envID),
	})
}

type envIDField uint32

func (id envIDField) String() string {
	return fmt.Sprintf("%08x", uint32(id))
}
