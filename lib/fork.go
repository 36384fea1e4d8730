package lib

import (
	"gopherjos/kernel/env"
	"gopherjos/kernel/gate"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/vmm"
)

// FlagCopyOnWrite marks copy-on-write page table entries. It is one of the
// bits that the MMU leaves to software (vmm.FlagAvail).
const FlagCopyOnWrite vmm.PageTableEntryFlag = 0x800

// Role tells the two sides of a fork apart.
type Role uint8

const (
	// Parent is the role of the process that called Fork.
	Parent Role = iota

	// Child is the role of the process that Fork created.
	Child
)

func (r Role) String() string {
	if r == Child {
		return "child"
	}
	return "parent"
}

// ForkResult is what Fork returns on each side. Child is the ID of the new
// environment in the parent and 0 in the child.
type ForkResult struct {
	Role  Role
	Child env.ID
}

// cowFault is the page fault handler installed by Fork. If the faulting
// access was a write to a copy-on-write page it maps a private writable copy
// of the page in its place; any other fault is fatal.
func cowFault(p *Process, utf *gate.UTrapframe) {
	addr := utf.FaultVA

	if vmm.FaultCode(utf.Err)&vmm.FaultWrite == 0 || !p.PageEntry(addr).HasFlags(FlagCopyOnWrite) {
		p.Panicf("Cannot handle non-CoW page fault: %08x", addr)
	}

	perm := vmm.FlagPresent | vmm.FlagUser | vmm.FlagRW
	if err := p.PageAlloc(0, mm.PFTemp, perm); err != nil {
		p.Panicf("sys_page_alloc failed with: %v", err)
	}

	page := mm.RoundDown(addr, mm.PageSize)
	p.MemMove(mm.PFTemp, page, mm.PageSize)

	if err := p.PageMap(0, mm.PFTemp, 0, page, perm); err != nil {
		p.Panicf("sys_page_map failed with: %v", err)
	}
	if err := p.PageUnmap(0, mm.PFTemp); err != nil {
		p.Panicf("sys_page_unmap failed with: %v", err)
	}
}

// duppage maps our page at va into environment id at the same address. A
// page that is writable or copy-on-write is mapped copy-on-write in the
// child and then remapped copy-on-write in the parent too, so that neither
// side can see the other's writes.
func (p *Process) duppage(id env.ID, va uint32) {
	pte := p.PageEntry(va)

	perm := pte.Flags() & (vmm.FlagAvail | vmm.FlagPresent | vmm.FlagUser)
	if pte.HasAnyFlag(vmm.FlagRW | FlagCopyOnWrite) {
		perm |= FlagCopyOnWrite
	}

	if err := p.PageMap(0, va, id, va, perm); err != nil {
		p.Panicf("sys_page_map failed with: %v", err)
	}

	if perm&FlagCopyOnWrite == 0 {
		return
	}

	// Remap ours copy-on-write as well, even if it already was.
	perm = pte.Flags()&(vmm.FlagPresent|vmm.FlagUser|vmm.FlagAvail) | FlagCopyOnWrite
	if err := p.PageMap(0, va, 0, va, perm); err != nil {
		p.Panicf("sys_page_map failed with: %v", err)
	}
}

// Fork creates a child process whose address space is a copy-on-write
// duplicate of the caller's. The caller gets back a ForkResult with role
// Parent and the child's ID. The child resumes at the same point by calling
// child with a ForkResult with role Child; the child exits when child
// returns. If the child cannot be created Fork returns the error and nothing
// is mapped.
func (p *Process) Fork(child func(p *Process, r ForkResult)) (ForkResult, error) {
	p.SetPgfaultHandler(cowFault)

	id, err := p.Exofork()
	if err != nil {
		return ForkResult{}, err
	}

	// The child returns from sys_exofork with the registers the kernel
	// copied; everything it needs from us is in its copy of memory and in
	// the registration below.
	p.rt.register(id, entry{
		name:    p.name,
		handler: p.handler,
		main: func(c *Process) {
			// Fix thisenv.
			c.id = c.Getenvid()
			child(c, ForkResult{Role: Child})
		},
	})

	// The exception stack is never shared.
	if err := p.PageAlloc(id, mm.UXStackTop-mm.PageSize, vmm.FlagPresent|vmm.FlagUser|vmm.FlagRW); err != nil {
		p.Panicf("sys_page_alloc failed with: %v", err)
	}

	// Walk down from the page below the exception stack.
	for pn := int((mm.UTop-mm.PageSize)/mm.PageSize) - 1; pn >= 0; pn-- {
		va := uint32(pn) << mm.PageShift
		if !p.DirPresent(va) {
			// Skip the rest of the directory group.
			pn &^= mm.NPTEntries - 1
			continue
		}
		if p.PageEntry(va).HasFlags(vmm.FlagPresent) {
			p.duppage(id, va)
		}
	}

	if err := p.EnvSetPgfaultUpcall(id, p.Env().PgfaultUpcall); err != nil {
		p.Panicf("sys_env_set_pgfault_upcall failed with: %v", err)
	}
	if err := p.EnvSetStatus(id, env.StatusRunnable); err != nil {
		p.Panicf("sys_env_set_status failed with: %v", err)
	}

	return ForkResult{Role: Parent, Child: id}, nil
}
