// Package monitor implements the kernel monitor that environments drop into
// when they execute a breakpoint. Commands are read line by line from an
// input stream; the monitor returns to the environment on "continue" or when
// the input is exhausted.
package monitor

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"gopherjos/kernel/cpu"
	"gopherjos/kernel/gate"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/klog"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/pmm"
	"gopherjos/kernel/mm/vmm"
	"gopherjos/kernel/trap"
)

// maxArgs bounds the number of words in a command line.
const maxArgs = 16

type command struct {
	name string
	desc string

	// fn returns false to leave the monitor.
	fn func(m *Monitor, args []string, c *cpu.CPU, tf *gate.TrapFrame) bool
}

var commands []command

func init() {
	commands = []command{
		{"help", "Display this list of commands", (*Monitor).help},
		{"kerninfo", "Display information about the kernel", (*Monitor).kerninfo},
		{"frame", "Display the trap frame of the breakpoint", (*Monitor).frame},
		{"dumptable", "Display a page table (defaults to the page directory)", (*Monitor).dumpTable},
		{"continue", "Return to the environment", (*Monitor).cont},
	}
}

// Monitor is the breakpoint monitor. It is only entered with the kernel lock
// held so it needs no locking of its own.
type Monitor struct {
	mem *pmm.Memory
	in  *bufio.Scanner
	out io.Writer
}

// New returns a monitor that reads commands from in and writes to out. A nil
// in makes every breakpoint a no-op apart from the banner; a nil out writes
// to the console.
func New(mem *pmm.Memory, in io.Reader, out io.Writer) *Monitor {
	m := &Monitor{mem: mem, out: out}
	if in != nil {
		m.in = bufio.NewScanner(in)
	}
	if m.out == nil {
		m.out = kfmt.Console()
	}
	return m
}

// Run implements trap.Monitor.
func (m *Monitor) Run(c *cpu.CPU, tf *gate.TrapFrame) {
	klog.CPU(c.ID).WithField("eip", tf.EIP).Debug("entering monitor")

	kfmt.Fprintf(m.out, "Welcome to the JOS kernel monitor!\n")
	kfmt.Fprintf(m.out, "Type 'help' for a list of commands.\n")
	if tf != nil {
		trap.PrintFrame(m.out, c, tf)
	}

	if m.in == nil {
		return
	}

	for {
		kfmt.Fprintf(m.out, "K> ")
		if !m.in.Scan() {
			kfmt.Fprintf(m.out, "\n")
			return
		}
		if !m.runCmd(m.in.Text(), c, tf) {
			return
		}
	}
}

// runCmd executes one command line and reports whether the monitor should
// keep reading commands.
func (m *Monitor) runCmd(line string, c *cpu.CPU, tf *gate.TrapFrame) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return true
	}
	if len(args) > maxArgs-1 {
		kfmt.Fprintf(m.out, "Too many arguments (max %d)\n", maxArgs)
		return true
	}

	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.fn(m, args, c, tf)
		}
	}

	kfmt.Fprintf(m.out, "Unknown command '%s'\n", args[0])
	return true
}

func (m *Monitor) help(_ []string, _ *cpu.CPU, _ *gate.TrapFrame) bool {
	for _, cmd := range commands {
		kfmt.Fprintf(m.out, "%s - %s\n", cmd.name, cmd.desc)
	}
	return true
}

func (m *Monitor) kerninfo(_ []string, c *cpu.CPU, _ *gate.TrapFrame) bool {
	kfmt.Fprintf(m.out, "Kernel stack of CPU %d:\n", c.ID)
	kfmt.Fprintf(m.out, "  top    %08x (virt)\n", c.TS.ESP0)
	kfmt.Fprintf(m.out, "  bottom %08x (virt)\n", c.TS.ESP0-mm.KStkSize)
	kfmt.Fprintf(m.out, "Physical memory: %dK total, %dK free\n",
		m.mem.Frames()*mm.PageSize/1024, m.mem.FreeCount()*mm.PageSize/1024)
	return true
}

func (m *Monitor) frame(_ []string, c *cpu.CPU, tf *gate.TrapFrame) bool {
	if tf == nil {
		kfmt.Fprintf(m.out, "No trap frame\n")
		return true
	}
	trap.PrintFrame(m.out, c, tf)
	return true
}

// dumpTable prints the page table that maps the address given as an argument,
// or the page directory of the current address space.
func (m *Monitor) dumpTable(args []string, c *cpu.CPU, _ *gate.TrapFrame) bool {
	as := c.CR3()
	if as == nil {
		kfmt.Fprintf(m.out, "No address space loaded\n")
		return true
	}

	if len(args) < 2 {
		m.dumpDirectory(as)
		return true
	}

	va, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		kfmt.Fprintf(m.out, "dumptable: bad address '%s'\n", args[1])
		return true
	}

	pdx := mm.PDX(uint32(va))
	kfmt.Fprintf(m.out, "Dumping page table for 0x%08x\n", pdx<<mm.PDXShift)

	notMapped := 0
	for ptx := uint32(0); ptx < mm.NPTEntries; ptx++ {
		pte := as.Entry(pdx<<mm.PDXShift | ptx<<mm.PageShift)
		if !pte.HasFlags(vmm.FlagPresent) {
			notMapped++
			continue
		}
		kfmt.Fprintf(m.out, "%4d:    0x%08x    %s\n", ptx, pte.Frame().Address(), flagString(pte))
	}
	kfmt.Fprintf(m.out, "(also %d unmapped pages)\n", notMapped)
	return true
}

func (m *Monitor) dumpDirectory(as *vmm.AddressSpace) {
	kfmt.Fprintf(m.out, "Dumping page directory\n")

	notMapped := 0
	for pdx := uint32(0); pdx < mm.NPDEntries; pdx++ {
		if !as.GroupPresent(pdx) {
			notMapped++
			continue
		}
		kfmt.Fprintf(m.out, "%4d:    va 0x%08x\n", pdx, pdx<<mm.PDXShift)
	}
	kfmt.Fprintf(m.out, "(also %d unmapped page tables)\n", notMapped)
}

func (m *Monitor) cont(_ []string, _ *cpu.CPU, _ *gate.TrapFrame) bool {
	return false
}

var flagNames = []struct {
	flag vmm.PageTableEntryFlag
	name string
}{
	{vmm.FlagRW, "PTE_W"},
	{vmm.FlagUser, "PTE_U"},
	{vmm.FlagWriteThrough, "PTE_PWT"},
	{vmm.FlagCacheDisable, "PTE_PCD"},
	{vmm.FlagAccessed, "PTE_A"},
	{vmm.FlagDirty, "PTE_D"},
	{vmm.FlagHugePage, "PTE_PS"},
	{vmm.FlagGlobal, "PTE_G"},
}

func flagString(pte vmm.PTE) string {
	s := "PTE_P"
	for _, f := range flagNames {
		if pte.HasFlags(f.flag) {
			s += "," + f.name
		}
	}
	if avail := pte.Flags() & vmm.FlagAvail; avail != 0 {
		s += ",avail=" + strconv.FormatUint(uint64(avail>>9), 10)
	}
	return s
}
