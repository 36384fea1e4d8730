// Package kmain assembles a simulated machine: it boots the CPUs, wires the
// trap dispatcher to the scheduler, the system call layer and the drivers,
// and loads user programs into environments.
package kmain

import (
	"context"
	"io"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"gopherjos/kernel"
	"gopherjos/kernel/config"
	"gopherjos/kernel/cpu"
	"gopherjos/kernel/driver/tty"
	"gopherjos/kernel/driver/video/console"
	"gopherjos/kernel/env"
	"gopherjos/kernel/gate"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/klog"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/pmm"
	"gopherjos/kernel/mm/vmm"
	"gopherjos/kernel/monitor"
	"gopherjos/kernel/sched"
	ksync "gopherjos/kernel/sync"
	"gopherjos/kernel/syscall"
	"gopherjos/kernel/trap"
	"gopherjos/lib"
)

var (
	errMachineRunning = &kernel.Error{Module: "kmain", Message: "machine is already running"}
	errThreadReturned = &kernel.Error{Module: "kmain", Message: "environment thread returned"}
)

// Option customizes a Machine.
type Option func(*Machine)

// WithConsoleOutput sends console output to w instead of the writer selected
// by the configuration.
func WithConsoleOutput(w io.Writer) Option {
	return func(m *Machine) { m.out = w }
}

// WithConsoleInput makes r the keyboard of the machine.
func WithConsoleInput(r io.Reader) Option {
	return func(m *Machine) { m.in = r }
}

// WithMonitorInput feeds r to the kernel monitor as its command stream.
func WithMonitorInput(r io.Reader) Option {
	return func(m *Machine) { m.monitorIn = r }
}

// Machine is a simulated multiprocessor running the kernel.
type Machine struct {
	cfg *config.Config

	out       io.Writer
	in        io.Reader
	monitorIn io.Reader

	mem    *pmm.Memory
	envs   *env.Table
	lock   ksync.KernelLock
	cpus   []*cpu.CPU
	sched  *sched.Scheduler
	trap   *trap.Dispatcher
	cons   *tty.Console
	screen *console.Ega
	rt     *lib.Runtime

	group   *errgroup.Group
	running atomic.Bool
}

// NewMachine builds a machine as described by cfg.
func NewMachine(cfg *config.Config, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Machine{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}

	if m.out == nil {
		out, err := cfg.ConsoleWriter()
		if err != nil {
			return nil, err
		}
		m.out = out
	}

	// Console output goes to the configured writer and the screen.
	m.screen = console.NewEga(console.TextWidth, console.TextHeight)
	kfmt.SetOutputSink(io.MultiWriter(m.out, m.screen))

	if err := klog.Configure(cfg.LogLevel, nil); err != nil {
		return nil, err
	}

	var kerr *kernel.Error
	m.mem = pmm.New(cfg.Frames)
	if m.envs, kerr = env.NewTable(m.mem, cfg.MaxEnvs); kerr != nil {
		return nil, kerr
	}

	idt := gate.NewTable()
	m.cpus = make([]*cpu.CPU, cfg.CPUs)
	for i := range m.cpus {
		m.cpus[i] = cpu.New(i, idt, cfg.TimerQuantum)
	}

	if m.sched, kerr = sched.New(&m.lock, m.envs, m.cpus, m.startEnv); kerr != nil {
		return nil, kerr
	}

	m.cons = tty.New(m.in)
	m.trap = trap.NewDispatcher(
		&m.lock,
		m.sched,
		syscall.NewHandler(m.mem, m.envs, m.sched, m.cons),
		monitor.New(m.mem, m.monitorIn, nil),
	)
	m.trap.RegisterIRQ(gate.IRQKbd, m.cons)
	m.trap.RegisterIRQ(gate.IRQSerial, m.cons)

	for _, c := range m.cpus {
		c.SetTrapEntry(m.trap.Trap)
	}

	m.rt = lib.NewRuntime(m.envs.View())

	klog.Logger().WithField("cpus", cfg.CPUs).WithField("frames", cfg.Frames).Debug("machine initialized")
	return m, nil
}

// Memory returns the physical memory of the machine.
func (m *Machine) Memory() *pmm.Memory {
	return m.mem
}

// Envs returns the environment table of the machine.
func (m *Machine) Envs() *env.Table {
	return m.envs
}

// CPUs returns the processors of the machine.
func (m *Machine) CPUs() []*cpu.CPU {
	return m.cpus
}

// Console returns the console input driver.
func (m *Machine) Console() *tty.Console {
	return m.cons
}

// Screen returns the text-mode display that mirrors the console output.
func (m *Machine) Screen() *console.Ega {
	return m.screen
}

// Spawn creates an environment that runs program umain. The environment gets
// a user stack and the two pages of read-only text that library and program
// code execute from. Spawn must be called before Run.
func (m *Machine) Spawn(name string, umain func(p *lib.Process)) (env.ID, error) {
	if m.running.Load() {
		return 0, errMachineRunning
	}

	e, err := m.envs.Alloc(0, name)
	if err != nil {
		return 0, err
	}

	segments := []struct {
		va   uint32
		perm vmm.PageTableEntryFlag
	}{
		{mm.UStackTop - mm.PageSize, vmm.FlagUser | vmm.FlagRW},
		{mm.UText, vmm.FlagUser},
		{lib.ProgramText, vmm.FlagUser},
	}

	for _, seg := range segments {
		frame, err := m.mem.Alloc(pmm.AllocZero)
		if err == nil {
			err = e.AddrSpace.Insert(seg.va, frame, seg.perm)
		}
		if err != nil {
			m.envs.Free(e, 0)
			return 0, err
		}
	}

	e.TF.EIP = lib.ProgramText
	m.rt.Register(e.ID, name, umain)
	return e.ID, nil
}

// Run boots every CPU and runs until no environment is left, the kernel
// panics or ctx is cancelled. A kernel panic is returned as a
// *kernel.Error.
func (m *Machine) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errMachineRunning
	}

	g, gctx := errgroup.WithContext(ctx)
	m.group = g

	for _, c := range m.cpus {
		g.Go(func() (err error) {
			defer m.recoverPanic(&err)
			m.sched.Idle(c)
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-m.sched.Done():
			return nil
		case <-gctx.Done():
			// Stop CPUs at their next trap.
			m.lock.Poison()
			m.sched.Shutdown()
			return ctx.Err()
		}
	})

	return g.Wait()
}

// startEnv launches the thread of environment e. It is called by the
// scheduler with the kernel lock held.
func (m *Machine) startEnv(e *env.Env, t *sched.Thread) {
	id := e.ID
	m.group.Go(func() (err error) {
		defer m.recoverPanic(&err)

		c, tf := t.Start()
		m.rt.Run(id, c, tf)

		// Processes end by destroying their environment.
		panic(errThreadReturned)
	})
}

// recoverPanic turns a kernel panic on the calling goroutine into an error
// and halts the rest of the machine.
func (m *Machine) recoverPanic(err *error) {
	r := recover()
	if r == nil {
		return
	}

	m.lock.Poison()
	*err = kfmt.PanicBanner(r)
	m.sched.Shutdown()
}
