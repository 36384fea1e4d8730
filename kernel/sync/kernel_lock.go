package sync

import (
	"sync/atomic"

	"gopherjos/kernel"
)

var (
	errAlreadyHolding = &kernel.Error{Module: "sync", Message: "CPU cannot acquire kernel lock: already holding"}
	errNotHolding     = &kernel.Error{Module: "sync", Message: "CPU cannot release kernel lock: not holding"}
)

// KernelLock is the big kernel lock. A CPU acquires it when it enters the
// kernel from user mode or wakes up from an idle halt and releases it when
// it returns to user mode or halts. At most one CPU runs kernel code at a
// time; this bounds scalability but keeps the kernel's shared state free of
// finer-grained locking.
type KernelLock struct {
	lock Spinlock

	// holder is the index of the owning CPU plus one; zero when free.
	holder atomic.Int32

	// poisoned is set when a CPU panics while holding the lock. CPUs
	// spinning on a poisoned lock give up and halt.
	poisoned atomic.Bool
}

// Lock acquires the lock on behalf of cpuID. It returns false without
// acquiring the lock if the kernel has panicked, in which case the caller
// must halt its CPU.
func (l *KernelLock) Lock(cpuID int) bool {
	if l.Holding(cpuID) {
		panic(errAlreadyHolding)
	}

	for attempt := 1; ; attempt++ {
		if l.poisoned.Load() {
			return false
		}

		if l.lock.TryToAcquire() {
			break
		}

		if attempt%attemptsBeforeYielding == 0 {
			yieldFn()
		}
	}

	l.holder.Store(int32(cpuID) + 1)
	return true
}

// Unlock releases the lock held by cpuID.
func (l *KernelLock) Unlock(cpuID int) {
	if !l.Holding(cpuID) {
		panic(errNotHolding)
	}

	l.holder.Store(0)
	l.lock.Release()
}

// Holding reports whether cpuID holds the lock.
func (l *KernelLock) Holding(cpuID int) bool {
	return l.holder.Load() == int32(cpuID)+1
}

// Poison marks the kernel as panicked.
func (l *KernelLock) Poison() {
	l.poisoned.Store(true)
}

// Poisoned reports whether the kernel has panicked.
func (l *KernelLock) Poisoned() bool {
	return l.poisoned.Load()
}
