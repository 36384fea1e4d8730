// Package trap implements the kernel's trap dispatcher: the code every
// exception, interrupt and system call funnels into, and the page fault
// handler that reflects user faults back to user mode.
package trap

import (
	"runtime"
	"time"

	"gopherjos/kernel"
	"gopherjos/kernel/cpu"
	"gopherjos/kernel/env"
	"gopherjos/kernel/gate"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/klog"
	"gopherjos/kernel/sched"
	ksync "gopherjos/kernel/sync"
	"gopherjos/kernel/syscall"
)

var (
	// haltFn is mocked by tests. It stops a CPU that traps after another
	// CPU panicked the kernel.
	haltFn = runtime.Goexit

	errInterruptsEnabled   = &kernel.Error{Module: "trap", Message: "trap entered with interrupts enabled"}
	errNoCurrentEnv        = &kernel.Error{Module: "trap", Message: "trap from user mode without a current environment"}
	errUnhandledKernelTrap = &kernel.Error{Module: "trap", Message: "unhandled trap in kernel"}
	errKernelPageFault     = &kernel.Error{Module: "trap", Message: "page fault in kernel mode"}
)

// Monitor is the kernel monitor that breakpoint traps drop into. Run
// returns when the environment that hit the breakpoint should continue.
type Monitor interface {
	Run(c *cpu.CPU, tf *gate.TrapFrame)
}

// IRQHandler services a hardware interrupt line on behalf of a device
// driver.
type IRQHandler interface {
	HandleIRQ(c *cpu.CPU, line int)
}

// Dispatcher routes traps to their handlers. One Dispatcher is shared by
// every CPU; its Trap method is installed as each CPU's trap entry.
type Dispatcher struct {
	lock     *ksync.KernelLock
	sched    *sched.Scheduler
	syscalls *syscall.Handler
	monitor  Monitor

	irqs   [gate.NumIRQs]IRQHandler
	irqLog *klog.RateLimited
}

// NewDispatcher returns a trap dispatcher. monitor may be nil, in which
// case breakpoints are treated like any other unexpected trap.
func NewDispatcher(lock *ksync.KernelLock, s *sched.Scheduler, syscalls *syscall.Handler, monitor Monitor) *Dispatcher {
	return &Dispatcher{
		lock:     lock,
		sched:    s,
		syscalls: syscalls,
		monitor:  monitor,
		irqLog:   klog.NewRateLimited(klog.Logger(), 100*time.Millisecond),
	}
}

// RegisterIRQ installs the driver for an IRQ line. Interrupts on lines
// without a driver are unexpected traps.
func (d *Dispatcher) RegisterIRQ(line int, h IRQHandler) {
	d.irqs[line] = h
}

// Trap is the kernel entry point for every trap taken on c. It returns the
// CPU and frame that the interrupted thread resumes with; the CPU is a
// different one if the thread was rescheduled elsewhere.
func (d *Dispatcher) Trap(c *cpu.CPU, tf *gate.TrapFrame) (*cpu.CPU, gate.TrapFrame) {
	self := d.sched.Owner(c)

	// Another CPU panicked the kernel; stop this one too.
	if d.lock.Poisoned() {
		haltFn()
	}

	// Re-acquire the kernel lock if this CPU was halted in the scheduler.
	if c.SwapStatus(cpu.StatusStarted) == cpu.StatusHalted {
		d.lockKernel(c)
	}

	if c.InterruptsEnabled() {
		d.kernelPanic(c, errInterruptsEnabled)
	}

	if tf.FromUser() {
		d.lockKernel(c)

		e := d.sched.Current(c)
		if e == nil {
			d.kernelPanic(c, errNoCurrentEnv)
		}

		// Destroyed while running on this CPU.
		if e.Status == env.StatusDying {
			return d.sched.Destroy(self, c, e), self.Frame()
		}

		// Work on the saved copy from here on so that the environment
		// can be resumed from it after a reschedule.
		e.TF = *tf
		tf = &e.TF
	}

	c.SetLastFrame(tf)
	klog.CPU(c.ID).WithField("trapno", tf.TrapNo).Debug(gate.InterruptNumber(tf.TrapNo).Name())

	if resumed := d.dispatch(self, c, tf); resumed != nil {
		return resumed, self.Frame()
	}

	if e := d.sched.Current(c); e != nil && e.Status == env.StatusRunning {
		return d.sched.Run(self, c, e), self.Frame()
	}
	return d.sched.Yield(self, c), self.Frame()
}

// dispatch runs the handler for tf. It returns a non-nil CPU if the
// handler rescheduled and self has already been resumed.
func (d *Dispatcher) dispatch(self *sched.Thread, c *cpu.CPU, tf *gate.TrapFrame) *cpu.CPU {
	n := gate.InterruptNumber(tf.TrapNo)

	switch n {
	case gate.Breakpoint:
		if d.monitor != nil {
			d.monitor.Run(c, tf)
			return nil
		}
	case gate.PageFaultException:
		return d.pageFault(self, c, tf)
	case gate.Syscall:
		ret, resumed := d.syscalls.Dispatch(self, c, syscall.Number(tf.Regs.EAX),
			tf.Regs.EDX, tf.Regs.ECX, tf.Regs.EBX, tf.Regs.EDI, tf.Regs.ESI)
		if resumed != nil {
			return resumed
		}
		tf.Regs.EAX = uint32(ret)
		return nil
	case gate.IRQOffset + gate.IRQSpurious:
		kfmt.Printf("Spurious interrupt on irq 7\n")
		PrintFrame(nil, c, tf)
		return nil
	case gate.IRQOffset + gate.IRQTimer:
		d.irqLog.Debugf("timer interrupt on cpu %d", c.ID)
		c.EOI()
		return d.sched.Yield(self, c)
	}

	if n >= gate.IRQOffset && n < gate.IRQOffset+gate.NumIRQs {
		line := int(n - gate.IRQOffset)
		if h := d.irqs[line]; h != nil {
			h.HandleIRQ(c, line)
			c.EOI()
			return nil
		}
	}

	// Unexpected trap: the user process or the kernel has a bug.
	PrintFrame(nil, c, tf)
	if !tf.FromUser() {
		d.kernelPanic(c, errUnhandledKernelTrap)
	}
	return d.sched.Destroy(self, c, d.sched.Current(c))
}

// lockKernel acquires the kernel lock for c or halts the CPU if the kernel
// has panicked in the meantime.
func (d *Dispatcher) lockKernel(c *cpu.CPU) {
	if !d.lock.Lock(c.ID) {
		haltFn()
	}
}

// kernelPanic reports an unrecoverable kernel error. The panic unwinds to
// the top of the CPU's goroutine where the machine halts.
func (d *Dispatcher) kernelPanic(c *cpu.CPU, err *kernel.Error) {
	kfmt.Printf("kernel panic on CPU %d: %s\n", c.ID, err.Message)
	panic(err)
}
