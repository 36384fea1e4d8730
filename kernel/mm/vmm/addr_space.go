// Package vmm implements two-level i386 page tables that live inside
// simulated physical memory, together with the MMU translation used when
// user environments touch memory.
package vmm

import (
	"encoding/binary"
	"sync"

	"gopherjos/kernel"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/pmm"
)

const (
	// pageLevels indicates the number of page levels supported by the i386
	// architecture without PAE.
	pageLevels = 2

	// pteSize is the size in bytes of a page table entry.
	pteSize = 4
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// View is the read-only window onto an address space's page tables that the
// kernel exposes to user environments at UVPT.
type View interface {
	// Entry returns the page table entry for the page that contains va,
	// or zero if the page's directory group is not present.
	Entry(va uint32) PTE

	// GroupPresent reports whether the page directory entry with the
	// given index is present.
	GroupPresent(pdx uint32) bool
}

// AddressSpace is a page directory together with the page tables it points
// to. All tables are stored in frames owned by mem.
type AddressSpace struct {
	// mu serializes page table edits against MMU walks performed on
	// behalf of environments running on other CPUs.
	mu sync.RWMutex

	mem   *pmm.Memory
	pgdir mm.Frame
}

// NewAddressSpace allocates an empty page directory.
func NewAddressSpace(mem *pmm.Memory) (*AddressSpace, *kernel.Error) {
	pgdir, err := mem.Alloc(pmm.AllocZero)
	if err != nil {
		return nil, err
	}
	mem.IncRef(pgdir)

	return &AddressSpace{mem: mem, pgdir: pgdir}, nil
}

// Root returns the frame that holds the page directory. This is the value a
// CPU loads into CR3.
func (as *AddressSpace) Root() mm.Frame {
	return as.pgdir
}

// entryRef locates a page table entry inside physical memory.
type entryRef struct {
	table mm.Frame
	index uint32
}

func (as *AddressSpace) load(ref entryRef) PTE {
	return PTE(binary.LittleEndian.Uint32(as.mem.Bytes(ref.table)[ref.index*pteSize:]))
}

func (as *AddressSpace) store(ref entryRef, pte PTE) {
	binary.LittleEndian.PutUint32(as.mem.Bytes(ref.table)[ref.index*pteSize:], uint32(pte))
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, ref entryRef, pte PTE) bool

// walk performs a page table walk for the given virtual address. It calls the
// supplied walkFn with the page table entry that corresponds to each page
// table level. The walker decides whether the walk descends into the table
// pointed to by each non-final entry.
func (as *AddressSpace) walk(virtAddr uint32, walkFn pageTableWalker) {
	ref := entryRef{table: as.pgdir, index: mm.PDX(virtAddr)}

	for level := uint8(0); level < pageLevels; level++ {
		pte := as.load(ref)
		if !walkFn(level, ref, pte) {
			return
		}

		// The walker may have installed a new table; reload the entry.
		ref = entryRef{table: as.load(ref).Frame(), index: mm.PTX(virtAddr)}
	}
}

// lookupEntry returns the final entry for virtAddr. If create is set, a
// missing page table is allocated and installed.
func (as *AddressSpace) lookupEntry(virtAddr uint32, create bool) (entryRef, *kernel.Error) {
	var (
		found entryRef
		ok    bool
		err   *kernel.Error
	)

	as.walk(virtAddr, func(pteLevel uint8, ref entryRef, pte PTE) bool {
		if pteLevel == pageLevels-1 {
			found, ok = ref, true
			return false
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		if pte.HasFlags(FlagPresent) {
			return true
		}

		if !create {
			return false
		}

		// Next table does not yet exist; allocate a cleared frame for it.
		var tableFrame mm.Frame
		if tableFrame, err = as.mem.Alloc(pmm.AllocZero); err != nil {
			return false
		}
		as.mem.IncRef(tableFrame)
		as.store(ref, MakePTE(tableFrame, FlagPresent|FlagRW|FlagUser))
		return true
	})

	if err == nil && !ok {
		err = ErrInvalidMapping
	}
	return found, err
}

// Insert maps the page containing va to frame with the given flags,
// replacing any previous mapping. The frame's reference count is incremented
// before the old mapping is removed so that re-inserting the same frame at
// the same address with different flags is safe.
func (as *AddressSpace) Insert(va uint32, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	as.mu.Lock()
	defer as.mu.Unlock()

	ref, err := as.lookupEntry(va, true)
	if err != nil {
		return err
	}

	as.mem.IncRef(frame)
	if old := as.load(ref); old.HasFlags(FlagPresent) {
		as.store(ref, 0)
		as.mem.DecRef(old.Frame())
	}

	as.store(ref, MakePTE(frame, flags|FlagPresent))
	return nil
}

// Remove unmaps the page containing va. Unmapping an address that is not
// mapped is a no-op.
func (as *AddressSpace) Remove(va uint32) {
	as.mu.Lock()
	defer as.mu.Unlock()

	as.remove(va)
}

func (as *AddressSpace) remove(va uint32) {
	ref, err := as.lookupEntry(va, false)
	if err != nil {
		return
	}

	if old := as.load(ref); old.HasFlags(FlagPresent) {
		as.store(ref, 0)
		as.mem.DecRef(old.Frame())
	}
}

// Lookup returns the frame and entry that map the page containing va.
func (as *AddressSpace) Lookup(va uint32) (mm.Frame, PTE, bool) {
	as.mu.RLock()
	defer as.mu.RUnlock()

	pte := as.entry(va)
	if !pte.HasFlags(FlagPresent) {
		return mm.InvalidFrame, 0, false
	}
	return pte.Frame(), pte, true
}

// Entry implements View.
func (as *AddressSpace) Entry(va uint32) PTE {
	as.mu.RLock()
	defer as.mu.RUnlock()

	return as.entry(va)
}

func (as *AddressSpace) entry(va uint32) PTE {
	ref, err := as.lookupEntry(va, false)
	if err != nil {
		return 0
	}
	return as.load(ref)
}

// GroupPresent implements View.
func (as *AddressSpace) GroupPresent(pdx uint32) bool {
	as.mu.RLock()
	defer as.mu.RUnlock()

	return as.load(entryRef{table: as.pgdir, index: pdx & (mm.NPDEntries - 1)}).HasFlags(FlagPresent)
}

// Mappings invokes fn for every present page below mm.ULim in ascending
// address order until fn returns false.
func (as *AddressSpace) Mappings(fn func(va uint32, pte PTE) bool) {
	as.mu.RLock()
	defer as.mu.RUnlock()

	for pdx := uint32(0); pdx < mm.PDX(mm.ULim); pdx++ {
		pde := as.load(entryRef{table: as.pgdir, index: pdx})
		if !pde.HasFlags(FlagPresent) {
			continue
		}

		for ptx := uint32(0); ptx < mm.NPTEntries; ptx++ {
			pte := as.load(entryRef{table: pde.Frame(), index: ptx})
			if !pte.HasFlags(FlagPresent) {
				continue
			}

			if !fn(pdx<<mm.PDXShift|ptx<<mm.PageShift, pte) {
				return
			}
		}
	}
}

// Release unmaps every page below mm.UTop, frees all page tables and finally
// the page directory itself. The address space must not be used afterwards.
func (as *AddressSpace) Release() {
	as.mu.Lock()
	defer as.mu.Unlock()

	for pdx := uint32(0); pdx < mm.PDX(mm.UTop); pdx++ {
		dirRef := entryRef{table: as.pgdir, index: pdx}
		pde := as.load(dirRef)
		if !pde.HasFlags(FlagPresent) {
			continue
		}

		for ptx := uint32(0); ptx < mm.NPTEntries; ptx++ {
			if pte := as.load(entryRef{table: pde.Frame(), index: ptx}); pte.HasFlags(FlagPresent) {
				as.remove(pdx<<mm.PDXShift | ptx<<mm.PageShift)
			}
		}

		as.store(dirRef, 0)
		as.mem.DecRef(pde.Frame())
	}

	as.mem.DecRef(as.pgdir)
	as.pgdir = mm.InvalidFrame
}
