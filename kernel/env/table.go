package env

import (
	"sync"

	"github.com/google/btree"
	"gopherjos/kernel"
	"gopherjos/kernel/gate"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/klog"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/pmm"
	"gopherjos/kernel/mm/vmm"
)

var (
	// ErrBadEnv is returned when an ID does not name a live environment
	// or the caller lacks permission to act on it.
	ErrBadEnv = &kernel.Error{Module: "env", Message: "bad environment"}

	// ErrNoFreeEnv is returned when the environment table is full.
	ErrNoFreeEnv = &kernel.Error{Module: "env", Message: "out of environments"}

	errInvalidTableSize = &kernel.Error{Module: "env", Message: "environment table size must be a power of two no larger than MaxEnvs"}
)

// Table holds every environment of the machine. All mutations happen under
// the big kernel lock; the table's own lock additionally orders them against
// user environments reading through View.
type Table struct {
	mu sync.RWMutex

	mem  *pmm.Memory
	envs []Env

	// free is a stack of unused slots. The lowest slot is on top.
	free []int

	// live indexes the slots of environments that are not free, in slot
	// order, for the scheduler's round-robin scan.
	live *btree.BTreeG[int]
}

// NewTable returns a table with size slots.
func NewTable(mem *pmm.Memory, size int) (*Table, *kernel.Error) {
	if size < 1 || size > MaxEnvs || size&(size-1) != 0 {
		return nil, errInvalidTableSize
	}

	t := &Table{
		mem:  mem,
		envs: make([]Env, size),
		free: make([]int, 0, size),
		live: btree.NewG[int](8, func(a, b int) bool { return a < b }),
	}

	for slot := size - 1; slot >= 0; slot-- {
		t.envs[slot].slot = slot
		t.free = append(t.free, slot)
	}

	return t, nil
}

// Len returns the number of slots.
func (t *Table) Len() int {
	return len(t.envs)
}

// slotOf returns the slot an ID maps to.
func (t *Table) slotOf(id ID) int {
	return int(id) & (len(t.envs) - 1)
}

// At returns the environment in the given slot.
func (t *Table) At(slot int) *Env {
	return &t.envs[slot]
}

// Alloc creates a new environment with an empty address space and a user
// mode initial context. The environment starts out runnable but is not
// scheduled until it has a thread of execution; callers that need to set it
// up further should mark it not runnable first.
func (t *Table) Alloc(parent ID, name string) (*Env, *kernel.Error) {
	if len(t.free) == 0 {
		return nil, ErrNoFreeEnv
	}

	as, err := vmm.NewAddressSpace(t.mem)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	slot := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	e := &t.envs[slot]
	gen := (e.ID + (1 << genShift)) &^ ID(len(t.envs)-1)
	if gen <= 0 {
		gen = 1 << genShift
	}

	*e = Env{
		TF: gate.TrapFrame{
			ES:     gate.UserDS | gate.PrivUser,
			DS:     gate.UserDS | gate.PrivUser,
			SS:     gate.UserDS | gate.PrivUser,
			CS:     gate.UserCS | gate.PrivUser,
			ESP:    mm.UStackTop,
			EFlags: gate.EFlagsIF,
		},
		ID:        gen | ID(slot),
		ParentID:  parent,
		Type:      TypeUser,
		Status:    StatusRunnable,
		AddrSpace: as,
		Name:      name,
		slot:      slot,
	}
	t.live.ReplaceOrInsert(slot)
	t.mu.Unlock()

	kfmt.Printf("[%08x] new env %08x\n", uint32(parent), uint32(e.ID))
	klog.Logger().WithField("env", e.ID).WithField("parent", parent).Debug("env allocated")
	return e, nil
}

// Free releases every page mapped by e and returns its slot to the free
// list. cur is the environment on whose behalf the kernel is running, or 0.
func (t *Table) Free(e *Env, cur ID) {
	kfmt.Printf("[%08x] free env %08x\n", uint32(cur), uint32(e.ID))
	klog.Logger().WithField("env", e.ID).Debug("env freed")

	e.AddrSpace.Release()

	t.mu.Lock()
	defer t.mu.Unlock()

	e.AddrSpace = nil
	e.Status = StatusFree
	e.PgfaultUpcall = 0
	t.live.Delete(e.slot)
	t.free = append(t.free, e.slot)
}

// Lookup converts an ID to an environment. ID 0 names cur. When checkPerm is
// set the environment must be cur or one of cur's immediate children.
func (t *Table) Lookup(id ID, cur *Env, checkPerm bool) (*Env, *kernel.Error) {
	if id == 0 {
		if cur == nil {
			return nil, ErrBadEnv
		}
		return cur, nil
	}

	e := &t.envs[t.slotOf(id)]
	if e.Status == StatusFree || e.ID != id {
		return nil, ErrBadEnv
	}

	if checkPerm && e != cur && (cur == nil || e.ParentID != cur.ID) {
		return nil, ErrBadEnv
	}

	return e, nil
}

// SetStatus changes the lifecycle state of e.
func (t *Table) SetStatus(e *Env, s Status) {
	t.mu.Lock()
	e.Status = s
	t.mu.Unlock()
}

// SetUpcall registers the page fault upcall of e.
func (t *Table) SetUpcall(e *Env, upcall uint32) {
	t.mu.Lock()
	e.PgfaultUpcall = upcall
	t.mu.Unlock()
}

// MarkRunning records that e was given the CPU with the given index.
func (t *Table) MarkRunning(e *Env, cpuID int) {
	t.mu.Lock()
	e.Status = StatusRunning
	e.CPU = cpuID
	e.Runs++
	t.mu.Unlock()
}

// Scan visits every environment that is not free, starting at slot start
// and wrapping around, until fn returns false.
func (t *Table) Scan(start int, fn func(e *Env) bool) {
	start &= len(t.envs) - 1

	t.mu.RLock()
	slots := make([]int, 0, t.live.Len())
	t.live.AscendGreaterOrEqual(start, func(slot int) bool {
		slots = append(slots, slot)
		return true
	})
	t.live.AscendLessThan(start, func(slot int) bool {
		slots = append(slots, slot)
		return true
	})
	t.mu.RUnlock()

	for _, slot := range slots {
		if !fn(&t.envs[slot]) {
			return
		}
	}
}

// View returns the user-visible view of the table.
func (t *Table) View() View {
	return tableView{t}
}

type tableView struct {
	t *Table
}

func (v tableView) Env(id ID) Info {
	v.t.mu.RLock()
	defer v.t.mu.RUnlock()

	e := &v.t.envs[v.t.slotOf(id)]
	return Info{
		ID:            e.ID,
		ParentID:      e.ParentID,
		Type:          e.Type,
		Status:        e.Status,
		Runs:          e.Runs,
		PgfaultUpcall: e.PgfaultUpcall,
	}
}
