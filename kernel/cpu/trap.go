package cpu

import (
	"gopherjos/kernel/gate"
	"gopherjos/kernel/mm/vmm"
)

// Fault delivers an exception raised by the instruction at tf.EIP.
func (c *CPU) Fault(n gate.InterruptNumber, errCode uint32, tf gate.TrapFrame) (*CPU, gate.TrapFrame) {
	return c.deliver(n, errCode, tf)
}

// PageFault loads the faulting address in CR2 and delivers a page fault.
func (c *CPU) PageFault(f *vmm.Fault, tf gate.TrapFrame) (*CPU, gate.TrapFrame) {
	c.cr2 = f.VA
	return c.deliver(gate.PageFaultException, uint32(f.Code), tf)
}

// SoftwareInterrupt executes INT n. tf.EIP must already point past the
// instruction. The gate's privilege level is checked against the privilege
// level of tf.CS; a failed check turns the trap into a fault that points
// back at the INT instruction, whose length is insnLen.
func (c *CPU) SoftwareInterrupt(n gate.InterruptNumber, insnLen uint32, tf gate.TrapFrame) (*CPU, gate.TrapFrame) {
	vector, errCode := c.idt.SoftwareInterrupt(n, uint8(tf.CS&3))
	if vector != n {
		tf.EIP -= insnLen
	}
	return c.deliver(vector, errCode, tf)
}

// Interrupt delivers an IRQ vector returned by PendingInterrupt. Interrupts
// are taken between instructions so tf.EIP points at the next instruction.
func (c *CPU) Interrupt(n gate.InterruptNumber, tf gate.TrapFrame) (*CPU, gate.TrapFrame) {
	return c.deliver(n, 0, tf)
}

// deliver pushes the trap frame, enters the kernel with interrupts disabled
// and, once the kernel hands a frame back, returns from the trap on the CPU
// the context was resumed on.
func (c *CPU) deliver(n gate.InterruptNumber, errCode uint32, tf gate.TrapFrame) (*CPU, gate.TrapFrame) {
	tf.TrapNo = uint32(n)
	tf.Err = errCode
	if !tf.FromUser() {
		tf.ESP, tf.SS = 0, 0
	}

	c.intrEnabled = false
	resumed, out := c.entry(c, &tf)

	// iret restores the interrupt flag of the resumed context.
	resumed.intrEnabled = out.EFlags&gate.EFlagsIF != 0
	return resumed, out
}
