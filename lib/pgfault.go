package lib

import (
	"gopherjos/kernel/gate"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/vmm"
)

// PgfaultHandler is a user-level page fault handler. It runs on the
// exception stack; when it returns, execution resumes at the faulting
// instruction.
type PgfaultHandler func(p *Process, utf *gate.UTrapframe)

// SetPgfaultHandler installs h as the page fault handler. The first call
// allocates the exception stack and registers the upcall entry point with
// the kernel.
func (p *Process) SetPgfaultHandler(h PgfaultHandler) {
	if p.handler == nil {
		if err := p.PageAlloc(0, mm.UXStackTop-mm.PageSize, vmm.FlagPresent|vmm.FlagUser|vmm.FlagRW); err != nil {
			p.Panicf("set_pgfault_handler: sys_page_alloc failed with: %v", err)
		}
		if err := p.EnvSetPgfaultUpcall(0, pfentry); err != nil {
			p.Panicf("set_pgfault_handler: sys_env_set_pgfault_upcall failed with: %v", err)
		}
	}
	p.handler = h
}

// upcall is the code at the page fault entry point. The kernel enters it on
// the exception stack with ESP pointing at a UTrapframe. It calls the
// handler and then returns straight to the trap-time context: the trap-time
// eip is pushed on the trap-time stack so that, once every register has
// been restored, a single ret both switches stacks and jumps back.
func (p *Process) upcall() {
	utfVA := p.tf.ESP

	// pushl %esp; call *_pgfault_handler
	p.push(utfVA)
	p.push(pfentryRestore)
	p.tf.EIP = libText

	utf := p.loadUTrapframe(utfVA)
	if p.handler == nil {
		p.Panicf("page fault upcall without a handler: va %08x", utf.FaultVA)
	}
	p.handler(p, &utf)

	// ret; addl $4, %esp
	p.tf.EIP = pfentryRestore
	p.tf.ESP += 8

	p.StoreWord(utf.ESP-4, utf.EIP)

	// popal; popfl; popl %esp
	p.tf.Regs = utf.Regs
	p.tf.EFlags = utf.EFlags
	p.tf.ESP = utf.ESP - 4

	p.ret()
}

func (p *Process) loadUTrapframe(va uint32) gate.UTrapframe {
	var utf gate.UTrapframe
	_ = utf.UnmarshalBinary(p.ReadBytes(va, gate.UTrapframeSize))
	return utf
}
