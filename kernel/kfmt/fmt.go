// Package kfmt implements the kernel console: formatted output that every CPU
// shares, a message ring that keeps the most recent console output around for
// inspection, and the panic banner printed when the kernel halts.
package kfmt

import (
	"fmt"
	"io"
	"sync"
)

var (
	// outputMu serializes console writes from different CPUs so lines
	// emitted by concurrent traps do not interleave mid-write.
	outputMu sync.Mutex

	// messageRing keeps a copy of the most recent console output. Output
	// written before a sink is attached is only kept here.
	messageRing ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output is only captured by the messageRing.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the message ring to it.
func SetOutputSink(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()

	outputSink = w
	if w != nil {
		_, _ = w.Write(messageRing.Bytes())
	}
}

// GetOutputSink returns the currently active output sink.
func GetOutputSink() io.Writer {
	outputMu.Lock()
	defer outputMu.Unlock()
	return outputSink
}

// Printf formats according to a format specifier and writes to the console.
// Output is always recorded in the message ring.
func Printf(format string, args ...interface{}) {
	Fprintf(consoleWriter{}, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		w = consoleWriter{}
	}
	_, _ = fmt.Fprintf(w, format, args...)
}

// Console returns an io.Writer that writes to the console like Printf.
func Console() io.Writer {
	return consoleWriter{}
}

// Messages returns a copy of the most recent console output.
func Messages() string {
	outputMu.Lock()
	defer outputMu.Unlock()
	return string(messageRing.Bytes())
}

// consoleWriter is the io.Writer used by Printf. It tees writes to the
// message ring and the active sink.
type consoleWriter struct{}

func (consoleWriter) Write(p []byte) (int, error) {
	outputMu.Lock()
	defer outputMu.Unlock()

	_, _ = messageRing.Write(p)
	if outputSink == nil {
		return len(p), nil
	}
	return outputSink.Write(p)
}
