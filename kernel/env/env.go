// Package env implements user environments (processes) and the table that
// holds them.
package env

import (
	"fmt"

	"gopherjos/kernel/gate"
	"gopherjos/kernel/mm/vmm"
)

const (
	// Log2MaxEnvs bounds the size of the environment table.
	Log2MaxEnvs = 10

	// MaxEnvs is the largest supported environment table.
	MaxEnvs = 1 << Log2MaxEnvs

	// genShift is the offset of the generation number in an ID. It is
	// larger than Log2MaxEnvs so that IDs stay unique across slot reuse.
	genShift = 12
)

// ID identifies an environment. The low bits hold the environment's slot in
// the table and the high bits a generation number that changes every time
// the slot is reused. IDs are always positive; zero refers to the calling
// environment in system calls.
type ID int32

// Status describes the lifecycle state of an environment.
type Status uint32

const (
	// StatusFree marks an unused table slot.
	StatusFree Status = iota

	// StatusDying marks an environment that was destroyed while running
	// on another CPU. It is freed the next time it traps into the kernel.
	StatusDying

	// StatusRunnable marks an environment waiting for a CPU.
	StatusRunnable

	// StatusRunning marks an environment that owns a CPU.
	StatusRunning

	// StatusNotRunnable marks an environment that exists but must not be
	// scheduled.
	StatusNotRunnable
)

var statusNames = [...]string{"free", "dying", "runnable", "running", "not-runnable"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint32(s))
}

// Type distinguishes special environments.
type Type uint32

const (
	// TypeUser is a regular user environment.
	TypeUser Type = iota
)

// Env is a user environment. Fields that user environments can observe
// through View are only modified through Table methods.
type Env struct {
	// TF is the saved context of the environment while it is not running.
	TF gate.TrapFrame

	ID       ID
	ParentID ID
	Type     Type
	Status   Status

	// CPU is the index of the CPU the environment last ran on.
	CPU int

	// Runs counts how many times the environment has been run.
	Runs uint32

	AddrSpace *vmm.AddressSpace

	// PgfaultUpcall is the user address the kernel transfers control to
	// on a page fault; zero when no upcall is registered.
	PgfaultUpcall uint32

	// Name is the program the environment was created from.
	Name string

	slot int
}

// Slot returns the table index of the environment.
func (e *Env) Slot() int {
	return e.slot
}

// Info is the user-visible part of an environment.
type Info struct {
	ID            ID
	ParentID      ID
	Type          Type
	Status        Status
	Runs          uint32
	PgfaultUpcall uint32
}

// View is the read-only window onto the environment table that the kernel
// exposes to user environments at UENVS.
type View interface {
	// Env returns the slot that id maps to. Like indexing the envs array
	// with ENVX(id), the slot may hold a different generation or be free.
	Env(id ID) Info
}
