// Package tty implements the console input driver. Keyboard and serial
// interrupts drain the input device into a circular buffer that sys_cgetc
// reads from.
package tty

import (
	"io"
	"sync"

	"gopherjos/kernel/cpu"
	"gopherjos/kernel/klog"
)

// bufSize is the capacity of the input buffer. Input that arrives while the
// buffer is full is dropped.
const bufSize = 512

// Console buffers input from a character device. It implements io.Reader for
// sys_cgetc and trap.IRQHandler for the keyboard and serial lines.
type Console struct {
	mu sync.Mutex

	dev io.Reader
	eof bool

	buf  [bufSize]byte
	rpos uint32
	wpos uint32
}

// New returns a console that reads from dev. A nil dev never produces input.
func New(dev io.Reader) *Console {
	return &Console{dev: dev, eof: dev == nil}
}

// HandleIRQ moves whatever input the device has into the buffer.
func (t *Console) HandleIRQ(_ *cpu.CPU, line int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := t.poll(); n != 0 {
		klog.Logger().WithField("irq", line).Debugf("tty: buffered %d bytes", n)
	}
}

// Read returns the next buffered character. Like the console of a real
// machine it polls the device first so that input is seen even when its
// interrupt is masked. Read never blocks; it returns 0 and no error when
// there is nothing to read.
func (t *Console) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.poll()
	if t.rpos == t.wpos {
		return 0, nil
	}

	p[0] = t.buf[t.rpos%bufSize]
	t.rpos++
	return 1, nil
}

// Buffered returns the number of characters waiting to be read.
func (t *Console) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return int(t.wpos - t.rpos)
}

// poll reads up to one buffer's worth of free space from the device and
// returns the number of bytes stored. NUL bytes are discarded.
func (t *Console) poll() int {
	if t.eof {
		return 0
	}

	free := bufSize - (t.wpos - t.rpos)
	if free == 0 {
		return 0
	}

	var scratch [bufSize]byte
	n, err := t.dev.Read(scratch[:free])
	if err != nil {
		t.eof = true
	}

	stored := 0
	for _, b := range scratch[:n] {
		if b == 0 {
			continue
		}
		t.buf[t.wpos%bufSize] = b
		t.wpos++
		stored++
	}
	return stored
}
