package main

import (
	"bytes"
	"fmt"

	"gopherjos/kernel/gate"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/vmm"
	"gopherjos/lib"
)

const (
	permRW  = vmm.FlagPresent | vmm.FlagUser | vmm.FlagRW
	permCOW = vmm.FlagPresent | vmm.FlagUser | lib.FlagCopyOnWrite

	// sharedPage is where the cow and nohandler programs keep their data.
	sharedPage = 0x0a000000

	forktreeDepth = 3
)

type program struct {
	name  string
	umain func(p *lib.Process)
}

type scenario struct {
	descr    string
	programs []program
}

var scenarios = map[string]scenario{
	"hello": {
		descr:    "print a greeting and exit",
		programs: []program{{"hello", hello}},
	},
	"forktree": {
		descr:    "fork a binary tree of environments three levels deep",
		programs: []program{{"forktree", func(p *lib.Process) { forktree(p, "") }}},
	},
	"cow": {
		descr:    "share a page copy-on-write and let both sides privatize it",
		programs: []program{{"cow", cow}},
	},
	"nested": {
		descr:    "fault pages in from a handler that faults itself",
		programs: []program{{"faultalloc", faultalloc}},
	},
	"nohandler": {
		descr:    "write a copy-on-write page without a fault handler",
		programs: []program{{"nohandler", nohandler}},
	},
}

func hello(p *lib.Process) {
	p.Cprintf("hello, world\n")
	p.Cprintf("i am environment %08x\n", uint32(p.ID()))
}

func forkchild(p *lib.Process, cur string, branch byte) {
	if len(cur) >= forktreeDepth {
		return
	}

	nxt := cur + string(branch)
	if _, err := p.Fork(func(c *lib.Process, _ lib.ForkResult) { forktree(c, nxt) }); err != nil {
		p.Panicf("fork: %v", err)
	}
}

func forktree(p *lib.Process, cur string) {
	p.Cprintf("%04x: I am '%s'\n", uint32(p.ID()), cur)
	forkchild(p, cur, '0')
	forkchild(p, cur, '1')
}

func describe(p *lib.Process, who string) {
	pte := p.PageEntry(sharedPage)
	p.Cprintf("%s: page %08x frame %d flags %03x value %08x\n",
		who, uint32(sharedPage), pte.Frame(), uint32(pte.Flags()), p.LoadWord(sharedPage))
}

func cow(p *lib.Process) {
	if err := p.PageAlloc(0, sharedPage, permRW); err != nil {
		p.Panicf("sys_page_alloc: %v", err)
	}
	p.StoreWord(sharedPage, 0xaaaa)
	describe(p, "parent")

	r, err := p.Fork(func(c *lib.Process, r lib.ForkResult) {
		describe(c, r.Role.String())
		c.StoreWord(sharedPage, 0xcccc)
		describe(c, r.Role.String())
	})
	if err != nil {
		p.Panicf("fork: %v", err)
	}

	describe(p, r.Role.String())
	p.StoreWord(sharedPage, 0xbbbb)
	describe(p, r.Role.String())

	// Let the child finish.
	p.Yield()
	describe(p, r.Role.String())
}

func faultallocHandler(p *lib.Process, utf *gate.UTrapframe) {
	addr := utf.FaultVA
	p.Cprintf("fault %x\n", addr)

	if err := p.PageAlloc(0, mm.RoundDown(addr, mm.PageSize), permRW); err != nil {
		p.Panicf("allocating at %x in page fault handler: %v", addr, err)
	}
	p.WriteBytes(addr, []byte(fmt.Sprintf("this string was faulted in at %x\x00", addr)))
}

func faultalloc(p *lib.Process) {
	p.SetPgfaultHandler(faultallocHandler)

	// The second string starts two bytes before a page boundary so that
	// the handler faults while writing it.
	for _, va := range []uint32{0xdeadbeef, 0xcafebffe} {
		s := p.ReadBytes(va, 100)
		if i := bytes.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
		p.Cprintf("%s\n", s)
	}
}

func nohandler(p *lib.Process) {
	if err := p.PageAlloc(0, sharedPage, permRW); err != nil {
		p.Panicf("sys_page_alloc: %v", err)
	}
	if err := p.PageMap(0, sharedPage, 0, sharedPage, permCOW); err != nil {
		p.Panicf("sys_page_map: %v", err)
	}

	describe(p, "nohandler")
	p.StoreWord(sharedPage, 1)
	p.Panicf("write to a copy-on-write page went through")
}
