// Package lib is the user-level runtime that environments link against. It
// executes the instructions of a program against the simulated MMU, wraps
// the system call interface and implements the page fault upcall, the
// copy-on-write fault handler and fork.
package lib

import (
	"encoding/binary"

	"gopherjos/kernel/cpu"
	"gopherjos/kernel/env"
	"gopherjos/kernel/gate"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/vmm"
)

// User text layout. The first page of UText holds the library: the page
// fault entry point followed by library routines such as fault handlers.
// Programs start on the next page.
const (
	// pfentry is the page fault upcall entry point.
	pfentry = mm.UText

	// pfentryRestore is the return address of the call to the handler.
	pfentryRestore = pfentry + 0x10

	// pfentryRet is the final ret that jumps back to the trap-time eip.
	pfentryRet = pfentryRestore + insnSize

	libText    = mm.UText + 0x100
	libTextEnd = mm.UText + mm.PageSize

	// ProgramText is the entry point of every program.
	ProgramText    = mm.UText + mm.PageSize
	programTextEnd = mm.UText + mm.PTSize

	insnSize    = 4
	intInsnSize = 2
)

// nextEIP returns the address of the instruction that follows the one at
// eip. Library and program code loop around within their text region.
func nextEIP(eip, n uint32) uint32 {
	var base, end uint32
	switch {
	case eip < libText:
		return eip + n
	case eip < libTextEnd:
		base, end = libText, libTextEnd
	default:
		base, end = ProgramText, programTextEnd
	}
	return base + (eip-base+n)%(end-base)
}

// Process is the user-mode state of an environment: the CPU it is executing
// on and its registers. All methods must be called from the environment's
// own thread.
type Process struct {
	rt *Runtime

	c  *cpu.CPU
	tf gate.TrapFrame

	// id is what thisenv points to.
	id   env.ID
	name string

	// handler is the _pgfault_handler called by the upcall entry point.
	handler PgfaultHandler
}

// ID returns the environment ID of the process.
func (p *Process) ID() env.ID {
	return p.id
}

// Name returns the name of the program the process runs.
func (p *Process) Name() string {
	return p.name
}

// Env returns the process' entry in the read-only environment table.
func (p *Process) Env() env.Info {
	return p.rt.envs.Env(p.id)
}

// CPU returns the CPU the process is currently running on.
func (p *Process) CPU() *cpu.CPU {
	return p.c
}

// EIP returns the address of the next instruction.
func (p *Process) EIP() uint32 {
	return p.tf.EIP
}

// StackPointer returns the current value of ESP.
func (p *Process) StackPointer() uint32 {
	return p.tf.ESP
}

// exec executes a single instruction. op performs the instruction's memory
// accesses through the MMU and returns the fault that stopped it. Faulting
// instructions are restarted once the fault has been dealt with.
func (p *Process) exec(op func(as *vmm.AddressSpace) *vmm.Fault) {
	for {
		p.interrupts()

		eip := p.tf.EIP
		fault := op(p.c.CR3())
		if fault == nil {
			p.tf.EIP = nextEIP(eip, insnSize)
			p.c.Tick()
			return
		}

		p.c, p.tf = p.c.PageFault(fault, p.tf)
		p.resume(eip)
	}
}

// interrupts takes the interrupts that are pending at an instruction
// boundary.
func (p *Process) interrupts() {
	for {
		n, ok := p.c.PendingInterrupt()
		if !ok {
			return
		}

		eip := p.tf.EIP
		p.c, p.tf = p.c.Interrupt(n, p.tf)
		p.resume(eip)
	}
}

// resume continues after the kernel returned from a trap that was expected
// to resume execution at want. The kernel may instead have entered the page
// fault upcall, which returns to want itself.
func (p *Process) resume(want uint32) {
	if p.tf.EIP == pfentry {
		p.upcall()
	}

	if p.tf.EIP != want {
		p.invalidOpcode()
	}
}

// invalidOpcode faults on an address that holds no code. The kernel destroys
// the environment so it never returns.
func (p *Process) invalidOpcode() {
	p.c, p.tf = p.c.Fault(gate.InvalidOpcode, 0, p.tf)
}

// LoadWord reads the 32-bit word at va.
func (p *Process) LoadWord(va uint32) uint32 {
	var v uint32
	p.exec(func(as *vmm.AddressSpace) *vmm.Fault {
		var fault *vmm.Fault
		v, fault = load32(as, va)
		return fault
	})
	return v
}

// StoreWord writes the 32-bit word v at va.
func (p *Process) StoreWord(va, v uint32) {
	p.exec(func(as *vmm.AddressSpace) *vmm.Fault {
		return store32(as, va, v)
	})
}

// ReadBytes reads n bytes starting at va.
func (p *Process) ReadBytes(va uint32, n int) []byte {
	buf := make([]byte, n)
	p.exec(func(as *vmm.AddressSpace) *vmm.Fault {
		_, fault := as.Read(va, buf, true)
		return fault
	})
	return buf
}

// WriteBytes writes data starting at va.
func (p *Process) WriteBytes(va uint32, data []byte) {
	p.exec(func(as *vmm.AddressSpace) *vmm.Fault {
		_, fault := as.Write(va, data, true)
		return fault
	})
}

// MemMove copies n bytes from src to dst.
func (p *Process) MemMove(dst, src uint32, n int) {
	buf := make([]byte, n)
	p.exec(func(as *vmm.AddressSpace) *vmm.Fault {
		if _, fault := as.Read(src, buf, true); fault != nil {
			return fault
		}
		_, fault := as.Write(dst, buf, true)
		return fault
	})
}

// PageEntry reads the page table entry for va through the read-only page
// table mapping at UVPT. It returns an empty entry if the directory entry
// for va is not present.
func (p *Process) PageEntry(va uint32) vmm.PTE {
	var pte vmm.PTE
	p.exec(func(as *vmm.AddressSpace) *vmm.Fault {
		pte = vmm.View(as).Entry(va)
		return nil
	})
	return pte
}

// DirPresent reads the page directory entry for va through UVPD and reports
// whether it is present.
func (p *Process) DirPresent(va uint32) bool {
	var present bool
	p.exec(func(as *vmm.AddressSpace) *vmm.Fault {
		present = vmm.View(as).GroupPresent(mm.PDX(va))
		return nil
	})
	return present
}

func (p *Process) push(v uint32) {
	p.StoreWord(p.tf.ESP-4, v)
	p.tf.ESP -= 4
}

// ret pops the return address off the stack and jumps to it.
func (p *Process) ret() {
	target := p.LoadWord(p.tf.ESP)
	p.tf.ESP += 4
	p.tf.EIP = target
}

func load32(as *vmm.AddressSpace, va uint32) (uint32, *vmm.Fault) {
	var buf [4]byte
	if _, fault := as.Read(va, buf[:], true); fault != nil {
		return 0, fault
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func store32(as *vmm.AddressSpace, va, v uint32) *vmm.Fault {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, fault := as.Write(va, buf[:], true)
	return fault
}
