package cpu

import (
	"testing"

	"gopherjos/kernel/gate"
	"gopherjos/kernel/mm/vmm"
)

func userFrame() gate.TrapFrame {
	return gate.TrapFrame{
		EIP:    0x00801000,
		CS:     gate.UserCS | gate.PrivUser,
		EFlags: gate.EFlagsIF,
		ESP:    0xeebfe000,
		SS:     gate.UserDS | gate.PrivUser,
	}
}

func TestTrapDelivery(t *testing.T) {
	var (
		c      = New(0, gate.NewTable(), 0)
		other  = New(1, gate.NewTable(), 0)
		got    gate.TrapFrame
		intrOn bool
	)

	c.SetTrapEntry(func(entered *CPU, tf *gate.TrapFrame) (*CPU, gate.TrapFrame) {
		if entered != c {
			t.Error("expected the trap to enter on the raising CPU")
		}
		intrOn = entered.InterruptsEnabled()
		got = *tf
		return other, *tf
	})

	specs := []struct {
		descr   string
		raise   func() (*CPU, gate.TrapFrame)
		expNo   gate.InterruptNumber
		expErr  uint32
		expEIP  uint32
		expCR2  uint32
		checkCR bool
	}{
		{
			"page fault",
			func() (*CPU, gate.TrapFrame) {
				return c.PageFault(&vmm.Fault{VA: 0xdeadb000, Code: vmm.FaultWrite | vmm.FaultUser}, userFrame())
			},
			gate.PageFaultException, uint32(vmm.FaultWrite | vmm.FaultUser), 0x00801000, 0xdeadb000, true,
		},
		{
			"system call",
			func() (*CPU, gate.TrapFrame) {
				tf := userFrame()
				tf.EIP += 2
				return c.SoftwareInterrupt(gate.Syscall, 2, tf)
			},
			gate.Syscall, 0, 0x00801002, 0, false,
		},
		{
			"privileged software interrupt",
			func() (*CPU, gate.TrapFrame) {
				tf := userFrame()
				tf.EIP += 2
				return c.SoftwareInterrupt(gate.PageFaultException, 2, tf)
			},
			gate.GPFException, uint32(gate.PageFaultException)<<3 | 2, 0x00801000, 0, false,
		},
		{
			"fault",
			func() (*CPU, gate.TrapFrame) {
				return c.Fault(gate.DivideByZero, 0, userFrame())
			},
			gate.DivideByZero, 0, 0x00801000, 0, false,
		},
		{
			"interrupt",
			func() (*CPU, gate.TrapFrame) {
				return c.Interrupt(gate.IRQOffset+gate.IRQTimer, userFrame())
			},
			gate.IRQOffset + gate.IRQTimer, 0, 0x00801000, 0, false,
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			c.EnableInterrupts()
			other.DisableInterrupts()

			resumed, out := spec.raise()

			if intrOn {
				t.Error("expected interrupts to be disabled on kernel entry")
			}

			if got.TrapNo != uint32(spec.expNo) || got.Err != spec.expErr || got.EIP != spec.expEIP {
				t.Errorf("expected trap %d err 0x%x eip 0x%x; got %d err 0x%x eip 0x%x",
					spec.expNo, spec.expErr, spec.expEIP, got.TrapNo, got.Err, got.EIP)
			}

			if spec.checkCR && c.CR2() != spec.expCR2 {
				t.Errorf("expected CR2 0x%x; got 0x%x", spec.expCR2, c.CR2())
			}

			if resumed != other || out.EIP != got.EIP {
				t.Error("expected the frame returned by the kernel to be resumed on the returned CPU")
			}

			if !other.InterruptsEnabled() {
				t.Error("expected iret to restore the interrupt flag on the resumed CPU")
			}
		})
	}
}

func TestKernelModeTrapDropsStack(t *testing.T) {
	c := New(0, gate.NewTable(), 0)

	var got gate.TrapFrame
	c.SetTrapEntry(func(entered *CPU, tf *gate.TrapFrame) (*CPU, gate.TrapFrame) {
		got = *tf
		return entered, *tf
	})

	tf := gate.TrapFrame{CS: gate.KernelCS, ESP: 0xf0000000, SS: gate.KernelDS}
	c.Interrupt(gate.IRQOffset+gate.IRQTimer, tf)

	if got.ESP != 0 || got.SS != 0 {
		t.Fatalf("expected same-privilege traps to carry no stack; got esp 0x%x ss 0x%x", got.ESP, got.SS)
	}
}
