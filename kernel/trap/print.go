package trap

import (
	"io"

	"gopherjos/kernel/cpu"
	"gopherjos/kernel/gate"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/mm/vmm"
)

// PrintFrame writes tf to w, or to the console if w is nil. CR2 is only
// shown for the frame of the trap c is currently handling since it is
// overwritten by later faults.
func PrintFrame(w io.Writer, c *cpu.CPU, tf *gate.TrapFrame) {
	if w == nil {
		w = kfmt.Console()
	}

	kfmt.Fprintf(w, "TRAP frame at 0x%08x from CPU %d\n", c.TS.ESP0-gate.FrameSize, c.ID)
	tf.Regs.DumpTo(&kfmt.PrefixWriter{Sink: w, Prefix: []byte("  ")})
	kfmt.Fprintf(w, "  es   0x----%04x\n", tf.ES)
	kfmt.Fprintf(w, "  ds   0x----%04x\n", tf.DS)

	n := gate.InterruptNumber(tf.TrapNo)
	kfmt.Fprintf(w, "  trap 0x%08x %s\n", tf.TrapNo, n.Name())
	if tf == c.LastFrame() && n == gate.PageFaultException {
		kfmt.Fprintf(w, "  cr2  0x%08x\n", c.CR2())
	}

	kfmt.Fprintf(w, "  err  0x%08x", tf.Err)
	if n == gate.PageFaultException {
		kfmt.Fprintf(w, " [%s]", faultCodeString(vmm.FaultCode(tf.Err)))
	}
	kfmt.Fprintf(w, "\n")

	kfmt.Fprintf(w, "  eip  0x%08x\n", tf.EIP)
	kfmt.Fprintf(w, "  cs   0x----%04x\n", tf.CS)
	kfmt.Fprintf(w, "  flag 0x%08x\n", tf.EFlags)
	if tf.FromUser() {
		kfmt.Fprintf(w, "  esp  0x%08x\n", tf.ESP)
		kfmt.Fprintf(w, "  ss   0x----%04x\n", tf.SS)
	}
}

// faultCodeString decodes a page fault error code.
func faultCodeString(code vmm.FaultCode) string {
	mode, access, cause := "kernel", "read", "not-present"
	if code&vmm.FaultUser != 0 {
		mode = "user"
	}
	if code&vmm.FaultWrite != 0 {
		access = "write"
	}
	if code&vmm.FaultProtection != 0 {
		cause = "protection"
	}
	return mode + ", " + access + ", " + cause
}
