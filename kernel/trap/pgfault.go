package trap

import (
	"gopherjos/kernel/cpu"
	"gopherjos/kernel/gate"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/vmm"
	"gopherjos/kernel/sched"
)

const (
	// exceptionStackBottom is the lowest address of the user exception
	// stack.
	exceptionStackBottom = mm.UXStackTop - mm.PageSize

	// wordSize is the size of the return address slot that a nested
	// upcall reserves below the interrupted upcall's stack.
	wordSize = 4
)

// exceptionStack views an environment's exception stack as a stack of
// UTrapframes. Each nested fault pushes a frame below the stack pointer of
// the upcall it interrupted.
type exceptionStack struct {
	as *vmm.AddressSpace
}

// nested reports whether esp points into the exception stack, in which case
// the fault happened while an upcall was running.
func nested(esp uint32) bool {
	return esp >= exceptionStackBottom && esp < mm.UXStackTop
}

// push writes utf on the stack for a fault taken with the given stack
// pointer and returns the frame's address. If the frame does not fit in the
// exception stack or the environment cannot write there, push returns the
// first offending address and false.
func (s exceptionStack) push(esp uint32, utf *gate.UTrapframe) (uint32, bool) {
	top := uint32(mm.UXStackTop)
	if nested(esp) {
		// Leave a word for the interrupted upcall's return address.
		top = esp - wordSize
	}

	slot := top - gate.UTrapframeSize
	if slot < exceptionStackBottom {
		return slot, false
	}

	if bad, ok := s.as.UserMemCheck(slot, gate.UTrapframeSize, vmm.FlagRW|vmm.FlagUser); !ok {
		return bad, false
	}

	data, _ := utf.MarshalBinary()
	if _, fault := s.as.Write(slot, data, false); fault != nil {
		return fault.VA, false
	}

	return slot, true
}

// pageFault handles a page fault. Faults in user mode are reflected to the
// environment's page fault upcall on its exception stack; environments
// without an upcall, or whose exception stack is unusable, are destroyed.
func (d *Dispatcher) pageFault(self *sched.Thread, c *cpu.CPU, tf *gate.TrapFrame) *cpu.CPU {
	va := c.CR2()

	if !tf.FromUser() {
		kfmt.Printf("kernel fault va %08x ip %08x\n", va, tf.EIP)
		d.kernelPanic(c, errKernelPageFault)
	}

	e := d.sched.Current(c)
	if e.PgfaultUpcall == 0 {
		kfmt.Printf("[%08x] user fault va %08x ip %08x\n", uint32(e.ID), va, tf.EIP)
		PrintFrame(nil, c, tf)
		return d.sched.Destroy(self, c, e)
	}

	utf := gate.UTrapframe{
		FaultVA: va,
		Err:     tf.Err,
		Regs:    tf.Regs,
		EIP:     tf.EIP,
		EFlags:  tf.EFlags,
		ESP:     tf.ESP,
	}

	slot, ok := exceptionStack{as: e.AddrSpace}.push(tf.ESP, &utf)
	if !ok {
		kfmt.Printf("[%08x] user_mem_check assertion failure for va %08x\n", uint32(e.ID), slot)
		return d.sched.Destroy(self, c, e)
	}

	tf.ESP = slot
	tf.EIP = e.PgfaultUpcall
	return nil
}
