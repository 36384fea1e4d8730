// Package sched hands CPUs to environments. Each environment and each CPU's
// idle loop is a thread of execution; a CPU is passed between threads like a
// token so that exactly one thread runs on a CPU at any time.
package sched

import (
	"sync"

	"gopherjos/kernel"
	"gopherjos/kernel/cpu"
	"gopherjos/kernel/env"
	"gopherjos/kernel/gate"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/klog"
	"gopherjos/kernel/mm/vmm"
	ksync "gopherjos/kernel/sync"
)

var errNoCPUs = &kernel.Error{Module: "sched", Message: "scheduler needs at least one CPU"}

// StartFn launches the thread of an environment that is about to run for
// the first time. The implementation must call t.Start from a new goroutine.
// It is invoked with the kernel lock held.
type StartFn func(e *env.Env, t *Thread)

// Scheduler implements env_run, sched_yield and sched_halt on top of the
// thread model. Every method except Owner, Idle, Shutdown and Done must be
// called with the kernel lock held by the CPU passed in.
type Scheduler struct {
	lock *ksync.KernelLock
	envs *env.Table
	cpus []*cpu.CPU

	// cur holds the environment each CPU is running on behalf of.
	cur []*env.Env

	// owner holds the thread each CPU is handed to. It is written by the
	// current owner before the CPU changes hands.
	owner []*Thread

	idle    []*Thread
	threads map[env.ID]*Thread
	start   StartFn

	done     chan struct{}
	stopOnce sync.Once
}

// New returns a scheduler for the given CPUs.
func New(lock *ksync.KernelLock, envs *env.Table, cpus []*cpu.CPU, start StartFn) (*Scheduler, *kernel.Error) {
	if len(cpus) == 0 {
		return nil, errNoCPUs
	}

	s := &Scheduler{
		lock:    lock,
		envs:    envs,
		cpus:    cpus,
		cur:     make([]*env.Env, len(cpus)),
		owner:   make([]*Thread, len(cpus)),
		idle:    make([]*Thread, len(cpus)),
		threads: make(map[env.ID]*Thread),
		start:   start,
		done:    make(chan struct{}),
	}

	for i := range cpus {
		s.idle[i] = newThread(nil, s.done)
		s.owner[i] = s.idle[i]
	}

	return s, nil
}

// Owner returns the thread that currently holds c.
func (s *Scheduler) Owner(c *cpu.CPU) *Thread {
	return s.owner[c.ID]
}

// Current returns the environment that c is running, or nil if c is idle.
func (s *Scheduler) Current(c *cpu.CPU) *env.Env {
	return s.cur[c.ID]
}

// CurrentID returns the ID of the environment that c is running, or 0.
func (s *Scheduler) CurrentID(c *cpu.CPU) env.ID {
	if e := s.cur[c.ID]; e != nil {
		return e.ID
	}
	return 0
}

// Done returns a channel that is closed when the machine shuts down.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Shutdown stops the machine. Parked threads and idle CPUs exit.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Run switches c to environment e, releases the kernel lock and hands the
// CPU to e's thread. The calling thread self parks until it is handed a CPU
// again and Run returns that CPU. If e's thread is self, Run returns c
// immediately so the caller can return to user mode.
func (s *Scheduler) Run(self *Thread, c *cpu.CPU, e *env.Env) *cpu.CPU {
	if cur := s.cur[c.ID]; cur != nil && cur.Status == env.StatusRunning {
		s.envs.SetStatus(cur, env.StatusRunnable)
		if cur != e {
			s.kickHalted(c)
		}
	}

	s.cur[c.ID] = e
	s.envs.MarkRunning(e, c.ID)
	c.LoadCR3(e.AddrSpace)

	t, ok := s.threads[e.ID]
	if !ok {
		t = newThread(e, s.done)
		s.threads[e.ID] = t
		s.start(e, t)
	}

	klog.Env(c.ID, uint32(e.ID)).WithField("runs", e.Runs).Debug("env run")

	s.owner[c.ID] = t
	s.lock.Unlock(c.ID)
	if t == self {
		return c
	}

	t.wake <- c
	return self.Park()
}

// Yield picks the next runnable environment in round-robin order, starting
// after the one c is currently running, and runs it. If none is runnable the
// current environment keeps the CPU as long as it is still running;
// otherwise the CPU halts. Yield returns the CPU that self resumes on.
func (s *Scheduler) Yield(self *Thread, c *cpu.CPU) *cpu.CPU {
	start := 0
	if cur := s.cur[c.ID]; cur != nil {
		start = cur.Slot() + 1
	}

	var next *env.Env
	s.envs.Scan(start, func(e *env.Env) bool {
		if e.Status == env.StatusRunnable {
			next = e
			return false
		}
		return true
	})

	if next != nil {
		return s.Run(self, c, next)
	}

	if cur := s.cur[c.ID]; cur != nil && cur.Status == env.StatusRunning {
		return s.Run(self, c, cur)
	}

	return s.halt(self, c)
}

// halt parks c in its idle loop until an environment becomes runnable. When
// no environment can ever run again the machine shuts down.
func (s *Scheduler) halt(self *Thread, c *cpu.CPU) *cpu.CPU {
	active := false
	s.envs.Scan(0, func(e *env.Env) bool {
		switch e.Status {
		case env.StatusRunnable, env.StatusRunning, env.StatusDying:
			active = true
			return false
		}
		return true
	})

	if !active {
		kfmt.Printf("No runnable environments in the system!\n")
		s.Shutdown()
	}

	klog.CPU(c.ID).Debug("cpu halted")

	s.cur[c.ID] = nil
	c.LoadCR3(nil)
	c.SwapStatus(cpu.StatusHalted)

	idle := s.idle[c.ID]
	s.owner[c.ID] = idle
	s.lock.Unlock(c.ID)
	if idle == self {
		return c
	}

	idle.wake <- c
	return self.Park()
}

// SetStatus changes the status of e and wakes halted CPUs if e became
// runnable.
func (s *Scheduler) SetStatus(c *cpu.CPU, e *env.Env, status env.Status) {
	s.envs.SetStatus(e, status)
	if status == env.StatusRunnable {
		s.kickHalted(c)
	}
}

func (s *Scheduler) kickHalted(c *cpu.CPU) {
	for _, other := range s.cpus {
		if other != c && other.Status() == cpu.StatusHalted {
			other.Kick()
		}
	}
}

// Destroy destroys e. An environment running on another CPU is only marked
// as dying; it is freed the next time it traps into the kernel. If e is the
// environment c is running, the CPU is rescheduled. The thread of a freed
// environment never resumes, so in that case Destroy does not return;
// otherwise it returns nil.
func (s *Scheduler) Destroy(self *Thread, c *cpu.CPU, e *env.Env) *cpu.CPU {
	cur := s.cur[c.ID]
	if e != cur && (e.Status == env.StatusRunning || e.Status == env.StatusDying) {
		s.envs.SetStatus(e, env.StatusDying)
		return nil
	}

	s.free(c, e)
	if e != cur {
		return nil
	}

	s.cur[c.ID] = nil
	return s.Yield(self, c)
}

// free releases e and retires its thread.
func (s *Scheduler) free(c *cpu.CPU, e *env.Env) {
	if c.CR3() == e.AddrSpace {
		c.LoadCR3(nil)
	}

	s.envs.Free(e, s.CurrentID(c))

	if t, ok := s.threads[e.ID]; ok {
		delete(s.threads, e.ID)
		close(t.dead)
	}
}

// Idle runs the idle loop of c. It boots the CPU into the scheduler and
// then waits for kicks, delivering a timer interrupt for each so the CPU
// traps back into the kernel and looks for work. Idle returns when the
// machine shuts down or the kernel panics.
func (s *Scheduler) Idle(c *cpu.CPU) {
	self := s.idle[c.ID]

	c.SwapStatus(cpu.StatusStarted)
	if !s.lock.Lock(c.ID) {
		return
	}
	klog.CPU(c.ID).Debug("cpu started")
	c = s.Yield(self, c)

	for {
		select {
		case <-s.done:
			return
		case <-c.Kicked():
		}

		if s.lock.Poisoned() {
			return
		}

		c.RaiseIRQ(gate.IRQTimer)
		c.EnableInterrupts()
		if n, ok := c.PendingInterrupt(); ok {
			c, _ = c.Interrupt(n, self.Frame())
		}
		c.DisableInterrupts()
	}
}

// AssertUserMem checks that e may access [va, va+size) with perm. On
// failure it prints a diagnostic, destroys e and returns false; if e is the
// environment running on c, AssertUserMem does not return.
func (s *Scheduler) AssertUserMem(self *Thread, c *cpu.CPU, e *env.Env, va, size uint32, perm vmm.PageTableEntryFlag) bool {
	bad, ok := e.AddrSpace.UserMemCheck(va, size, perm|vmm.FlagUser)
	if ok {
		return true
	}

	kfmt.Printf("[%08x] user_mem_check assertion failure for va %08x\n", uint32(e.ID), bad)
	s.Destroy(self, c, e)
	return false
}
