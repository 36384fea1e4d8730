package vmm

import "gopherjos/kernel/mm"

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint32

const (
	// FlagPresent is set when the page is available in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUser is set if user-mode environments can access this page. If
	// not set only kernel code can access this page.
	FlagUser

	// FlagWriteThrough implies write-through caching when set and
	// write-back caching if cleared.
	FlagWriteThrough

	// FlagCacheDisable prevents this page from being cached if set.
	FlagCacheDisable

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set for 4M pages. It is never set by this kernel.
	FlagHugePage

	// FlagGlobal prevents the TLB from flushing the cached address for
	// this page when CR3 is reloaded.
	FlagGlobal

	// FlagAvail covers the three bits that the MMU ignores and that
	// software can use for its own bookkeeping.
	FlagAvail PageTableEntryFlag = 0xe00

	// FlagSyscall is the set of flags that user environments may pass to
	// the page system calls.
	FlagSyscall = FlagAvail | FlagPresent | FlagRW | FlagUser
)

const ptePhysPageMask = 0xfffff000

// PTE describes a page table or page directory entry. Entries encode a
// physical frame number in bits 12-31 and a set of flags in bits 0-11.
type PTE uint32

// MakePTE returns an entry pointing to frame with the given flags.
func MakePTE(frame mm.Frame, flags PageTableEntryFlag) PTE {
	return PTE(frame.Address() | uint32(flags)&^ptePhysPageMask)
}

// HasFlags returns true if this entry has all the input flags set.
func (pte PTE) HasFlags(flags PageTableEntryFlag) bool {
	return uint32(pte)&uint32(flags) == uint32(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PTE) HasAnyFlag(flags PageTableEntryFlag) bool {
	return uint32(pte)&uint32(flags) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PTE) SetFlags(flags PageTableEntryFlag) {
	*pte = PTE(uint32(*pte) | uint32(flags)&^ptePhysPageMask)
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PTE) ClearFlags(flags PageTableEntryFlag) {
	*pte = PTE(uint32(*pte) &^ uint32(flags))
}

// Flags returns the flag bits of this entry.
func (pte PTE) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uint32(pte) &^ ptePhysPageMask)
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PTE) Frame() mm.Frame {
	return mm.Frame((uint32(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *PTE) SetFrame(frame mm.Frame) {
	*pte = PTE((uint32(*pte) &^ ptePhysPageMask) | frame.Address())
}
