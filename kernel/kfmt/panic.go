package kfmt

import (
	"runtime"

	"gopherjos/kernel"
)

var (
	// cpuHaltFn is mocked by tests. Halting a simulated CPU stops the
	// goroutine that is executing on its behalf.
	cpuHaltFn = runtime.Goexit

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the console and halts the
// CPU. Calls to Panic never return.
func Panic(e interface{}) {
	PanicBanner(e)
	cpuHaltFn()
}

// PanicBanner prints the kernel panic banner for e without halting. It
// returns the *kernel.Error that e was converted to, or nil if e is nil.
func PanicBanner(e interface{}) *kernel.Error {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	case nil:
	default:
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	return err
}
