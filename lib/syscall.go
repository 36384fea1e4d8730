package lib

import (
	"gopherjos/kernel/env"
	"gopherjos/kernel/gate"
	"gopherjos/kernel/mm/vmm"
	"gopherjos/kernel/syscall"
)

// syscall executes INT T_SYSCALL with the call number in EAX and the
// arguments in EDX, ECX, EBX, EDI and ESI, and returns EAX.
func (p *Process) syscall(num syscall.Number, a1, a2, a3, a4, a5 uint32) int32 {
	p.interrupts()

	p.tf.Regs.EAX = uint32(num)
	p.tf.Regs.EDX = a1
	p.tf.Regs.ECX = a2
	p.tf.Regs.EBX = a3
	p.tf.Regs.EDI = a4
	p.tf.Regs.ESI = a5

	p.softInt(gate.Syscall, intInsnSize)
	return int32(p.tf.Regs.EAX)
}

// softInt executes an INT instruction of the given length.
func (p *Process) softInt(n gate.InterruptNumber, insnLen uint32) {
	p.tf.EIP = nextEIP(p.tf.EIP, insnLen)
	want := p.tf.EIP
	p.c, p.tf = p.c.SoftwareInterrupt(n, insnLen, p.tf)
	p.resume(want)
	p.c.Tick()
}

// Breakpoint executes INT3, which drops into the kernel monitor.
func (p *Process) Breakpoint() {
	p.interrupts()
	p.softInt(gate.Breakpoint, 1)
}

// errno converts a system call result to an error.
func errno(r int32) error {
	if r < 0 {
		return syscall.Errno(-r)
	}
	return nil
}

// Cputs prints the n bytes at va on the console.
func (p *Process) Cputs(va uint32, n int) {
	p.syscall(syscall.Cputs, va, uint32(n), 0, 0, 0)
}

// Cgetc returns the next console character, or 0 if there is none.
func (p *Process) Cgetc() int {
	return int(p.syscall(syscall.Cgetc, 0, 0, 0, 0, 0))
}

// Getenvid returns the ID of the calling environment.
func (p *Process) Getenvid() env.ID {
	return env.ID(p.syscall(syscall.Getenvid, 0, 0, 0, 0, 0))
}

// EnvDestroy destroys environment id, or the caller if id is 0.
func (p *Process) EnvDestroy(id env.ID) error {
	return errno(p.syscall(syscall.EnvDestroy, uint32(id), 0, 0, 0, 0))
}

// PageAlloc maps a fresh zeroed page at va in environment id.
func (p *Process) PageAlloc(id env.ID, va uint32, perm vmm.PageTableEntryFlag) error {
	return errno(p.syscall(syscall.PageAlloc, uint32(id), va, uint32(perm), 0, 0))
}

// PageMap maps the page at srcVA in srcID at dstVA in dstID.
func (p *Process) PageMap(srcID env.ID, srcVA uint32, dstID env.ID, dstVA uint32, perm vmm.PageTableEntryFlag) error {
	return errno(p.syscall(syscall.PageMap, uint32(srcID), srcVA, uint32(dstID), dstVA, uint32(perm)))
}

// PageUnmap removes the mapping of va in environment id.
func (p *Process) PageUnmap(id env.ID, va uint32) error {
	return errno(p.syscall(syscall.PageUnmap, uint32(id), va, 0, 0, 0))
}

// Exofork creates a child environment with a copy of the caller's registers
// and an empty address space. The child is not runnable.
func (p *Process) Exofork() (env.ID, error) {
	r := p.syscall(syscall.Exofork, 0, 0, 0, 0, 0)
	if err := errno(r); err != nil {
		return 0, err
	}
	return env.ID(r), nil
}

// EnvSetStatus sets the status of environment id to runnable or not
// runnable.
func (p *Process) EnvSetStatus(id env.ID, status env.Status) error {
	return errno(p.syscall(syscall.EnvSetStatus, uint32(id), uint32(status), 0, 0, 0))
}

// EnvSetPgfaultUpcall sets the page fault entry point of environment id.
func (p *Process) EnvSetPgfaultUpcall(id env.ID, upcall uint32) error {
	return errno(p.syscall(syscall.EnvSetPgfaultUpcall, uint32(id), upcall, 0, 0, 0))
}

// Yield gives up the CPU.
func (p *Process) Yield() {
	p.syscall(syscall.Yield, 0, 0, 0, 0, 0)
}
