// Package syscall implements the kernel side of the system call interface.
package syscall

import (
	"io"

	"gopherjos/kernel/cpu"
	"gopherjos/kernel/env"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/klog"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/pmm"
	"gopherjos/kernel/mm/vmm"
	"gopherjos/kernel/sched"
)

// Handler executes system calls on behalf of the environment a CPU is
// running. It must be invoked with the kernel lock held.
type Handler struct {
	mem     *pmm.Memory
	envs    *env.Table
	sched   *sched.Scheduler
	console io.Reader
}

// NewHandler returns a system call handler. console is the input source for
// sys_cgetc and may be nil.
func NewHandler(mem *pmm.Memory, envs *env.Table, s *sched.Scheduler, console io.Reader) *Handler {
	return &Handler{
		mem:     mem,
		envs:    envs,
		sched:   s,
		console: console,
	}
}

// call carries the state shared by the system call implementations.
type call struct {
	self *sched.Thread
	c    *cpu.CPU
	cur  *env.Env
}

// Dispatch runs system call num with arguments a1 to a5 and returns the value
// for EAX. If the call gave the CPU away, for example by yielding, Dispatch
// also returns the CPU that self was resumed on; the caller must then return
// to user mode without touching EAX.
func (h *Handler) Dispatch(self *sched.Thread, c *cpu.CPU, num Number, a1, a2, a3, a4, a5 uint32) (int32, *cpu.CPU) {
	cl := call{self: self, c: c, cur: h.sched.Current(c)}

	klog.Env(c.ID, uint32(cl.cur.ID)).WithField("syscall", num).Debug("system call")

	switch num {
	case Cputs:
		return h.cputs(cl, a1, a2), nil
	case Cgetc:
		return h.cgetc(), nil
	case Getenvid:
		return int32(cl.cur.ID), nil
	case EnvDestroy:
		return h.envDestroy(cl, env.ID(a1))
	case PageAlloc:
		return h.pageAlloc(cl, env.ID(a1), a2, vmm.PageTableEntryFlag(a3)), nil
	case PageMap:
		return h.pageMap(cl, env.ID(a1), a2, env.ID(a3), a4, vmm.PageTableEntryFlag(a5)), nil
	case PageUnmap:
		return h.pageUnmap(cl, env.ID(a1), a2), nil
	case Exofork:
		return h.exofork(cl), nil
	case EnvSetStatus:
		return h.envSetStatus(cl, env.ID(a1), env.Status(a2)), nil
	case EnvSetPgfaultUpcall:
		return h.envSetPgfaultUpcall(cl, env.ID(a1), a2), nil
	case Yield:
		return 0, h.sched.Yield(self, c)
	default:
		return EInval.Result(), nil
	}
}

// cputs prints a string that lives in user memory. The environment is
// destroyed if it may not read the string.
func (h *Handler) cputs(cl call, s, n uint32) int32 {
	if !h.sched.AssertUserMem(cl.self, cl.c, cl.cur, s, n, vmm.FlagUser) {
		return EFault.Result()
	}

	buf := make([]byte, n)
	if _, fault := cl.cur.AddrSpace.Read(s, buf, false); fault != nil {
		return EFault.Result()
	}

	kfmt.Printf("%s", buf)
	return 0
}

// cgetc reads a character from the console without blocking. It returns 0
// if no input is available.
func (h *Handler) cgetc() int32 {
	if h.console == nil {
		return 0
	}

	var b [1]byte
	if n, err := h.console.Read(b[:]); n == 0 || err != nil {
		return 0
	}
	return int32(b[0])
}

func (h *Handler) envDestroy(cl call, id env.ID) (int32, *cpu.CPU) {
	e, err := h.envs.Lookup(id, cl.cur, true)
	if err != nil {
		return EBadEnv.Result(), nil
	}

	if e == cl.cur {
		kfmt.Printf("[%08x] exiting gracefully\n", uint32(cl.cur.ID))
	} else {
		kfmt.Printf("[%08x] destroying %08x\n", uint32(cl.cur.ID), uint32(e.ID))
	}

	return 0, h.sched.Destroy(cl.self, cl.c, e)
}

// validPage reports whether va is a page aligned user address.
func validPage(va uint32) bool {
	return va < mm.UTop && mm.PageOffset(va) == 0
}

// validPerm reports whether perm is a permission set that user environments
// may request: present and user must be set and nothing outside
// vmm.FlagSyscall.
func validPerm(perm vmm.PageTableEntryFlag) bool {
	const required = vmm.FlagPresent | vmm.FlagUser
	return perm&required == required && perm&^vmm.FlagSyscall == 0
}

func (h *Handler) pageAlloc(cl call, id env.ID, va uint32, perm vmm.PageTableEntryFlag) int32 {
	e, err := h.envs.Lookup(id, cl.cur, true)
	if err != nil {
		return EBadEnv.Result()
	}

	if !validPage(va) || !validPerm(perm) {
		return EInval.Result()
	}

	frame, err := h.mem.Alloc(pmm.AllocZero)
	if err != nil {
		return ENoMem.Result()
	}

	if err := e.AddrSpace.Insert(va, frame, perm); err != nil {
		_ = h.mem.Free(frame)
		return ENoMem.Result()
	}

	return 0
}

func (h *Handler) pageMap(cl call, srcID env.ID, srcVA uint32, dstID env.ID, dstVA uint32, perm vmm.PageTableEntryFlag) int32 {
	src, err := h.envs.Lookup(srcID, cl.cur, true)
	if err != nil {
		return EBadEnv.Result()
	}

	dst, err := h.envs.Lookup(dstID, cl.cur, true)
	if err != nil {
		return EBadEnv.Result()
	}

	if !validPage(srcVA) || !validPage(dstVA) || !validPerm(perm) {
		return EInval.Result()
	}

	frame, pte, ok := src.AddrSpace.Lookup(srcVA)
	if !ok {
		return EInval.Result()
	}

	if perm&vmm.FlagRW != 0 && !pte.HasFlags(vmm.FlagRW) {
		return EInval.Result()
	}

	if err := dst.AddrSpace.Insert(dstVA, frame, perm); err != nil {
		return ENoMem.Result()
	}

	return 0
}

func (h *Handler) pageUnmap(cl call, id env.ID, va uint32) int32 {
	e, err := h.envs.Lookup(id, cl.cur, true)
	if err != nil {
		return EBadEnv.Result()
	}

	if !validPage(va) {
		return EInval.Result()
	}

	e.AddrSpace.Remove(va)
	return 0
}

// exofork creates a blank child that is not runnable. The child inherits
// the caller's registers so that it resumes after the system call, where it
// sees a return value of 0.
func (h *Handler) exofork(cl call) int32 {
	child, err := h.envs.Alloc(cl.cur.ID, cl.cur.Name)
	switch {
	case err == env.ErrNoFreeEnv:
		return ENoFreeEnv.Result()
	case err != nil:
		return ENoMem.Result()
	}

	h.envs.SetStatus(child, env.StatusNotRunnable)
	child.TF = cl.cur.TF
	child.TF.Regs.EAX = 0

	return int32(child.ID)
}

func (h *Handler) envSetStatus(cl call, id env.ID, status env.Status) int32 {
	if status != env.StatusRunnable && status != env.StatusNotRunnable {
		return EInval.Result()
	}

	e, err := h.envs.Lookup(id, cl.cur, true)
	if err != nil {
		return EBadEnv.Result()
	}

	h.sched.SetStatus(cl.c, e, status)
	return 0
}

func (h *Handler) envSetPgfaultUpcall(cl call, id env.ID, upcall uint32) int32 {
	e, err := h.envs.Lookup(id, cl.cur, true)
	if err != nil {
		return EBadEnv.Result()
	}

	h.envs.SetUpcall(e, upcall)
	return 0
}
