package sched

import (
	"runtime"

	"gopherjos/kernel/cpu"
	"gopherjos/kernel/env"
	"gopherjos/kernel/gate"
)

// exitFn is mocked by tests. It stops the goroutine of a thread whose
// environment was freed.
var exitFn = runtime.Goexit

// Thread is the thread of execution of an environment, or of a CPU's idle
// loop when env is nil. A thread only runs while it holds a CPU; it gets one
// through its wake channel and gives it away before parking.
type Thread struct {
	env *env.Env

	// wake receives the CPU the thread is resumed on. It is buffered so
	// that a CPU can be handed to a thread that has released the kernel
	// lock but not parked yet.
	wake chan *cpu.CPU

	// dead is closed once the environment has been freed.
	dead chan struct{}

	// done is closed when the machine shuts down.
	done <-chan struct{}
}

func newThread(e *env.Env, done <-chan struct{}) *Thread {
	t := &Thread{
		env:  e,
		wake: make(chan *cpu.CPU, 1),
		done: done,
	}
	if e != nil {
		t.dead = make(chan struct{})
	}
	return t
}

// Env returns the environment the thread executes, or nil for idle threads.
func (t *Thread) Env() *env.Env {
	return t.env
}

// Park blocks until the thread is handed a CPU and returns it. If the
// environment is freed or the machine shuts down while parked, the calling
// goroutine exits.
func (t *Thread) Park() *cpu.CPU {
	select {
	case c := <-t.wake:
		return c
	case <-t.dead:
	case <-t.done:
	}

	exitFn()
	return nil
}

// Start parks a thread that has not run yet until it is scheduled for the
// first time and returns the CPU and frame it starts from. The CPU's
// interrupt flag is loaded from the frame as if returning from a trap.
func (t *Thread) Start() (*cpu.CPU, gate.TrapFrame) {
	c := t.Park()
	tf := t.Frame()
	if tf.EFlags&gate.EFlagsIF != 0 {
		c.EnableInterrupts()
	} else {
		c.DisableInterrupts()
	}
	return c, tf
}

// Frame returns the context the thread resumes with: the saved frame of its
// environment, or a kernel frame for idle threads.
func (t *Thread) Frame() gate.TrapFrame {
	if t.env == nil {
		return gate.TrapFrame{CS: gate.KernelCS, DS: gate.KernelDS, ES: gate.KernelDS}
	}
	return t.env.TF
}
