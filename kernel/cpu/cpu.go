// Package cpu models the per-processor state of a simulated i386 CPU: its
// control registers, interrupt flag, local interrupt controller and the
// hardware side of trap delivery.
package cpu

import (
	"math/bits"
	"sync/atomic"

	"gopherjos/kernel/gate"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/vmm"
)

// Status describes the run state of a CPU.
type Status uint32

const (
	// StatusUnused is the state of a CPU that has not been booted.
	StatusUnused Status = iota

	// StatusStarted is the state of a CPU that is running code.
	StatusStarted

	// StatusHalted is the state of a CPU that found nothing to run and
	// is waiting for an interrupt.
	StatusHalted
)

// TaskState holds the fields of the task state segment that the CPU
// consults when a trap crosses from user to kernel mode.
type TaskState struct {
	ESP0 uint32
	SS0  uint16
}

// TrapFn is the kernel trap entry point installed in a CPU. It receives the
// CPU the trap was taken on and the saved frame, and returns the CPU and
// frame to resume. The returned CPU differs from the input one if the
// interrupted context was rescheduled on another processor.
type TrapFn func(c *CPU, tf *gate.TrapFrame) (*CPU, gate.TrapFrame)

// CPU is the context record of one processor.
type CPU struct {
	// ID is the index of this CPU in the machine.
	ID int

	// TS is this CPU's task state.
	TS TaskState

	idt   *gate.Table
	entry TrapFn

	status atomic.Uint32

	intrEnabled bool
	cr2         uint32
	cr3         *vmm.AddressSpace

	// lastTF is the frame of the most recent trap taken on this CPU.
	lastTF *gate.TrapFrame

	// pending holds IRQ lines raised but not yet delivered; inService
	// the lines delivered but not yet acknowledged.
	pending   atomic.Uint32
	inService uint32

	quantum int
	ticks   int

	kick chan struct{}
}

// New returns a CPU with the given index. The timer raises an interrupt
// after every quantum user instructions; a zero quantum disables it.
func New(id int, idt *gate.Table, quantum int) *CPU {
	return &CPU{
		ID: id,
		TS: TaskState{
			ESP0: mm.KStackTop - uint32(id)*(mm.KStkSize+mm.KStkGap),
			SS0:  gate.KernelDS,
		},
		idt:     idt,
		quantum: quantum,
		kick:    make(chan struct{}, 1),
	}
}

// SetTrapEntry installs the kernel trap entry point.
func (c *CPU) SetTrapEntry(fn TrapFn) {
	c.entry = fn
}

// Status returns the run state of the CPU.
func (c *CPU) Status() Status {
	return Status(c.status.Load())
}

// SwapStatus atomically sets the run state and returns the previous one.
func (c *CPU) SwapStatus(s Status) Status {
	return Status(c.status.Swap(uint32(s)))
}

// EnableInterrupts sets the interrupt flag.
func (c *CPU) EnableInterrupts() {
	c.intrEnabled = true
}

// DisableInterrupts clears the interrupt flag.
func (c *CPU) DisableInterrupts() {
	c.intrEnabled = false
}

// InterruptsEnabled returns the interrupt flag.
func (c *CPU) InterruptsEnabled() bool {
	return c.intrEnabled
}

// CR2 returns the faulting address of the last page fault.
func (c *CPU) CR2() uint32 {
	return c.cr2
}

// CR3 returns the active address space.
func (c *CPU) CR3() *vmm.AddressSpace {
	return c.cr3
}

// LoadCR3 switches the active address space.
func (c *CPU) LoadCR3(as *vmm.AddressSpace) {
	c.cr3 = as
}

// LastFrame returns the frame of the most recent trap taken on this CPU.
func (c *CPU) LastFrame() *gate.TrapFrame {
	return c.lastTF
}

// SetLastFrame records the frame of the trap being handled.
func (c *CPU) SetLastFrame(tf *gate.TrapFrame) {
	c.lastTF = tf
}

// RaiseIRQ asserts an IRQ line. It may be called from any goroutine.
func (c *CPU) RaiseIRQ(line int) {
	for {
		old := c.pending.Load()
		if c.pending.CompareAndSwap(old, old|1<<uint(line)) {
			return
		}
	}
}

// EOI acknowledges the highest priority in-service interrupt.
func (c *CPU) EOI() {
	if c.inService != 0 {
		c.inService &= c.inService - 1
	}
}

// Tick advances the local timer by one instruction and raises the timer IRQ
// when the quantum expires.
func (c *CPU) Tick() {
	if c.quantum == 0 {
		return
	}

	if c.ticks++; c.ticks >= c.quantum {
		c.ticks = 0
		c.RaiseIRQ(gate.IRQTimer)
	}
}

// PendingInterrupt returns the vector of the highest priority IRQ that can
// be delivered now. Nothing is delivered while interrupts are disabled or
// while an interrupt on the same line awaits acknowledgement.
func (c *CPU) PendingInterrupt() (gate.InterruptNumber, bool) {
	if !c.intrEnabled {
		return 0, false
	}

	deliverable := c.pending.Load() &^ c.inService
	if deliverable == 0 {
		return 0, false
	}

	line := uint32(bits.TrailingZeros32(deliverable))
	for {
		old := c.pending.Load()
		if c.pending.CompareAndSwap(old, old&^(1<<line)) {
			break
		}
	}
	c.inService |= 1 << line

	return gate.IRQOffset + gate.InterruptNumber(line), true
}

// Kick wakes the CPU if it is halted. It may be called from any goroutine.
func (c *CPU) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Kicked returns the channel that receives a value when the CPU is kicked.
func (c *CPU) Kicked() <-chan struct{} {
	return c.kick
}
