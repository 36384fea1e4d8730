package cpu

import (
	"testing"

	"gopherjos/kernel/gate"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/pmm"
	"gopherjos/kernel/mm/vmm"
)

func TestNew(t *testing.T) {
	specs := []struct {
		id      int
		expESP0 uint32
	}{
		{0, mm.KStackTop},
		{1, mm.KStackTop - (mm.KStkSize + mm.KStkGap)},
		{3, mm.KStackTop - 3*(mm.KStkSize+mm.KStkGap)},
	}

	for specIndex, spec := range specs {
		c := New(spec.id, gate.NewTable(), 0)
		if c.TS.ESP0 != spec.expESP0 || c.TS.SS0 != gate.KernelDS {
			t.Errorf("[spec %d] expected TSS {0x%x, 0x%x}; got %+v", specIndex, spec.expESP0, gate.KernelDS, c.TS)
		}

		if c.Status() != StatusUnused {
			t.Errorf("[spec %d] expected new CPU to be unused", specIndex)
		}
	}
}

func TestStatusAndRegisters(t *testing.T) {
	c := New(0, gate.NewTable(), 0)

	if old := c.SwapStatus(StatusHalted); old != StatusUnused {
		t.Fatalf("expected previous status to be unused; got %d", old)
	}
	if old := c.SwapStatus(StatusStarted); old != StatusHalted {
		t.Fatalf("expected previous status to be halted; got %d", old)
	}

	c.EnableInterrupts()
	if !c.InterruptsEnabled() {
		t.Fatal("expected interrupts to be enabled")
	}
	c.DisableInterrupts()
	if c.InterruptsEnabled() {
		t.Fatal("expected interrupts to be disabled")
	}

	as, err := vmm.NewAddressSpace(pmm.New(64))
	if err != nil {
		t.Fatal(err)
	}
	c.LoadCR3(as)
	if c.CR3() != as {
		t.Fatal("expected CR3 to hold the loaded address space")
	}

	tf := &gate.TrapFrame{}
	c.SetLastFrame(tf)
	if c.LastFrame() != tf {
		t.Fatal("expected LastFrame to return the recorded frame")
	}
}

func TestTimerAndInterrupts(t *testing.T) {
	c := New(0, gate.NewTable(), 3)

	c.Tick()
	c.Tick()
	c.EnableInterrupts()
	if _, ok := c.PendingInterrupt(); ok {
		t.Fatal("expected no interrupt before the quantum expires")
	}

	c.Tick()
	c.DisableInterrupts()
	if _, ok := c.PendingInterrupt(); ok {
		t.Fatal("expected no interrupt delivery while interrupts are disabled")
	}

	c.RaiseIRQ(gate.IRQSerial)
	c.EnableInterrupts()

	n, ok := c.PendingInterrupt()
	if !ok || n != gate.IRQOffset+gate.IRQTimer {
		t.Fatalf("expected the timer to be delivered first; got %d (%t)", n, ok)
	}

	// The timer line stays in service until acknowledged.
	c.RaiseIRQ(gate.IRQTimer)
	n, ok = c.PendingInterrupt()
	if !ok || n != gate.IRQOffset+gate.IRQSerial {
		t.Fatalf("expected the serial IRQ while the timer is in service; got %d (%t)", n, ok)
	}

	if _, ok = c.PendingInterrupt(); ok {
		t.Fatal("expected no deliverable interrupt while both lines are in service")
	}

	c.EOI()
	n, ok = c.PendingInterrupt()
	if !ok || n != gate.IRQOffset+gate.IRQTimer {
		t.Fatalf("expected the timer again after EOI; got %d (%t)", n, ok)
	}
}

func TestDisabledTimer(t *testing.T) {
	c := New(0, gate.NewTable(), 0)
	c.EnableInterrupts()

	for i := 0; i < 1000; i++ {
		c.Tick()
	}

	if _, ok := c.PendingInterrupt(); ok {
		t.Fatal("expected a zero quantum to disable the timer")
	}
}

func TestKick(t *testing.T) {
	c := New(0, gate.NewTable(), 0)

	c.Kick()
	c.Kick()

	select {
	case <-c.Kicked():
	default:
		t.Fatal("expected a pending kick")
	}

	select {
	case <-c.Kicked():
		t.Fatal("expected kicks to coalesce")
	default:
	}
}
