// Package gate describes the i386 trap interface: the trap frame layouts,
// the interrupt vector numbers and the interrupt descriptor table that maps
// vectors to kernel entry points.
package gate

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint32

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// Debug is raised for single-step and hardware breakpoint traps.
	Debug = InterruptNumber(1)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems.
	NMI = InterruptNumber(2)

	// Breakpoint is raised by the INT3 instruction. It is the only
	// exception that user environments may raise explicitly.
	Breakpoint = InterruptNumber(3)

	// Overflow is raised by the INTO instruction when OF is set.
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an FPU
	// instruction while no FPU is available.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an exception occurs while the CPU is
	// delivering another exception.
	DoubleFault = InterruptNumber(8)

	// InvalidTSS occurs when a task switch references an invalid TSS.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent occurs when a segment or gate is not present.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault occurs when the stack segment limit checks fail.
	StackSegmentFault = InterruptNumber(12)

	// GPFException occurs when a general protection fault occurs. Software
	// interrupts through gates with insufficient privilege end up here.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory or page table entry
	// is not present or when a privilege and/or RW protection check fails.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs on an x87 FPU error.
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligned memory access is performed.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs.
	SIMDFloatingPointException = InterruptNumber(19)

	// IRQOffset is the vector that hardware IRQ 0 is remapped to.
	IRQOffset = InterruptNumber(32)

	// Syscall is the vector used by user environments for system calls.
	Syscall = InterruptNumber(48)

	// Default is a catch-all vector used for unexpected traps.
	Default = InterruptNumber(500)
)

// Hardware IRQ lines.
const (
	IRQTimer    = 0
	IRQKbd      = 1
	IRQSerial   = 4
	IRQSpurious = 7
	IRQIDE      = 14
	IRQError    = 19

	// NumIRQs is the number of IRQ lines routed through the IDT.
	NumIRQs = 16
)

var excNames = [...]string{
	"Divide error",
	"Debug",
	"Non-Maskable Interrupt",
	"Breakpoint",
	"Overflow",
	"BOUND Range Exceeded",
	"Invalid Opcode",
	"Device Not Available",
	"Double Fault",
	"Coprocessor Segment Overrun",
	"Invalid TSS",
	"Segment Not Present",
	"Stack Fault",
	"General Protection",
	"Page Fault",
	"(unknown trap)",
	"x87 FPU Floating-Point Error",
	"Alignment Check",
	"Machine-Check",
	"SIMD Floating-Point Exception",
}

// Name returns a human readable description of the vector.
func (n InterruptNumber) Name() string {
	switch {
	case int(n) < len(excNames):
		return excNames[n]
	case n == Syscall:
		return "System call"
	case n >= IRQOffset && n < IRQOffset+NumIRQs:
		return "Hardware Interrupt"
	default:
		return "(unknown trap)"
	}
}

// Gate describes one interrupt descriptor table entry.
type Gate struct {
	// Present is set for vectors that have a kernel entry point.
	Present bool

	// Selector is the code segment the handler runs in.
	Selector uint16

	// DPL is the most privileged level from which software may raise
	// the vector with an INT instruction.
	DPL uint8
}

// Table is the interrupt descriptor table. It is built once at boot and
// shared read-only by every CPU.
type Table struct {
	gates [256]Gate
}

// NewTable builds the descriptor table: every exception and IRQ vector
// traps into the kernel, breakpoints and system calls are also reachable
// from user mode.
func NewTable() *Table {
	t := &Table{}

	for n := DivideByZero; n <= SIMDFloatingPointException; n++ {
		t.gates[n] = Gate{Present: true, Selector: KernelCS}
	}
	t.gates[Breakpoint].DPL = PrivUser

	for irq := InterruptNumber(0); irq < NumIRQs; irq++ {
		t.gates[IRQOffset+irq] = Gate{Present: true, Selector: KernelCS}
	}

	t.gates[Syscall] = Gate{Present: true, Selector: KernelCS, DPL: PrivUser}
	return t
}

// Gate returns the descriptor for vector n.
func (t *Table) Gate(n InterruptNumber) Gate {
	return t.gates[uint8(n)]
}

// SoftwareInterrupt returns the vector and error code that the CPU delivers
// when code running at privilege level cpl executes INT n. Gates that are
// more privileged than the caller raise a general protection fault and
// missing gates a segment-not-present fault; in both cases the error code
// names the offending IDT slot.
func (t *Table) SoftwareInterrupt(n InterruptNumber, cpl uint8) (InterruptNumber, uint32) {
	g := t.gates[uint8(n)]
	idtErr := uint32(uint8(n))<<3 | 2

	switch {
	case g.DPL < cpl:
		return GPFException, idtErr
	case !g.Present:
		return SegmentNotPresent, idtErr
	}
	return n, 0
}
