package gate

import (
	"encoding/binary"
	"io"

	"gopherjos/kernel"
	"gopherjos/kernel/kfmt"
)

const (
	// FrameSize is the size of a TrapFrame as laid out by the hardware
	// and the trap entry stubs.
	FrameSize = 68

	// UTrapframeSize is the size of a UTrapframe on the user exception
	// stack.
	UTrapframeSize = 52
)

// Segment selectors loaded into the trap frame. The low two bits of a code
// selector hold the privilege level the CPU was running at.
const (
	KernelCS = 0x08
	KernelDS = 0x10
	UserCS   = 0x18
	UserDS   = 0x20
	TSS0     = 0x28

	// PrivUser is the requested privilege level of user selectors.
	PrivUser = 3
)

// EFlagsIF is the interrupt enable flag of EFLAGS.
const EFlagsIF = 0x200

var errShortUTrapframe = &kernel.Error{Module: "gate", Message: "buffer too short for a user trap frame"}

// PushRegs holds the general purpose registers in the order pushed by the
// pushal instruction.
type PushRegs struct {
	EDI  uint32
	ESI  uint32
	EBP  uint32
	OESP uint32 // useless
	EBX  uint32
	EDX  uint32
	ECX  uint32
	EAX  uint32
}

// DumpTo outputs the register contents to w.
func (r *PushRegs) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "edi  0x%08x\n", r.EDI)
	kfmt.Fprintf(w, "esi  0x%08x\n", r.ESI)
	kfmt.Fprintf(w, "ebp  0x%08x\n", r.EBP)
	kfmt.Fprintf(w, "oesp 0x%08x\n", r.OESP)
	kfmt.Fprintf(w, "ebx  0x%08x\n", r.EBX)
	kfmt.Fprintf(w, "edx  0x%08x\n", r.EDX)
	kfmt.Fprintf(w, "ecx  0x%08x\n", r.ECX)
	kfmt.Fprintf(w, "eax  0x%08x\n", r.EAX)
}

// TrapFrame is the context saved when an exception, interrupt or system call
// enters the kernel. Everything below TrapNo is pushed by the entry stubs;
// Err and the fields after it are pushed by the hardware. ESP and SS are
// only meaningful when the trap crossed from user to kernel mode.
type TrapFrame struct {
	Regs PushRegs
	ES   uint16
	_    uint16
	DS   uint16
	_    uint16

	TrapNo uint32
	Err    uint32
	EIP    uint32
	CS     uint16
	_      uint16
	EFlags uint32
	ESP    uint32
	SS     uint16
	_      uint16
}

// FromUser reports whether the trap was taken while running in user mode.
func (tf *TrapFrame) FromUser() bool {
	return tf.CS&3 == PrivUser
}

// UTrapframe is the frame the kernel builds on an environment's exception
// stack before transferring control to its page fault upcall.
type UTrapframe struct {
	FaultVA uint32
	Err     uint32
	Regs    PushRegs
	EIP     uint32
	EFlags  uint32
	ESP     uint32
}

// MarshalBinary encodes the frame in its little-endian stack layout.
func (utf *UTrapframe) MarshalBinary() ([]byte, error) {
	return binary.Append(make([]byte, 0, UTrapframeSize), binary.LittleEndian, utf)
}

// UnmarshalBinary decodes a frame from its stack layout.
func (utf *UTrapframe) UnmarshalBinary(data []byte) error {
	if len(data) < UTrapframeSize {
		return errShortUTrapframe
	}

	_, err := binary.Decode(data, binary.LittleEndian, utf)
	return err
}
