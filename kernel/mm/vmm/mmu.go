package vmm

import (
	"gopherjos/kernel"
	"gopherjos/kernel/mm"
)

// FaultCode is the error code pushed by the MMU on a page fault.
type FaultCode uint32

const (
	// FaultProtection is set when the fault was caused by a protection
	// violation. When clear the page was not present.
	FaultProtection FaultCode = 1 << iota

	// FaultWrite is set when the fault was caused by a write access.
	FaultWrite

	// FaultUser is set when the fault occurred in user mode.
	FaultUser
)

// Fault describes an access that the MMU refused.
type Fault struct {
	// VA is the address that was being accessed. The CPU loads it in CR2.
	VA uint32

	// Code is the page fault error code.
	Code FaultCode
}

// translate checks the permissions of both paging levels for an access to
// va and returns the backing frame.
func (as *AddressSpace) translate(va uint32, write, user bool) (mm.Frame, *Fault) {
	var code FaultCode
	if write {
		code |= FaultWrite
	}
	if user {
		code |= FaultUser
	}

	pde := as.load(entryRef{table: as.pgdir, index: mm.PDX(va)})
	if !pde.HasFlags(FlagPresent) {
		return mm.InvalidFrame, &Fault{VA: va, Code: code}
	}

	pte := as.load(entryRef{table: pde.Frame(), index: mm.PTX(va)})
	if !pte.HasFlags(FlagPresent) {
		return mm.InvalidFrame, &Fault{VA: va, Code: code}
	}

	// Effective permissions are the intersection of both levels. Kernel
	// writes honor read-only pages since the kernel runs with CR0.WP set.
	effective := pde.Flags() & pte.Flags()
	if (user && !effective.has(FlagUser)) || (write && !effective.has(FlagRW)) {
		return mm.InvalidFrame, &Fault{VA: va, Code: code | FaultProtection}
	}

	return pte.Frame(), nil
}

func (f PageTableEntryFlag) has(flags PageTableEntryFlag) bool {
	return f&flags == flags
}

// Translate performs the MMU translation of va for the given access kind
// and returns the physical address it maps to.
func (as *AddressSpace) Translate(va uint32, write, user bool) (uint32, *Fault) {
	as.mu.RLock()
	defer as.mu.RUnlock()

	frame, fault := as.translate(va, write, user)
	if fault != nil {
		return 0, fault
	}
	return frame.Address() | mm.PageOffset(va), nil
}

// Read copies len(buf) bytes starting at va into buf. On a fault it returns
// the number of bytes copied before the faulting page.
func (as *AddressSpace) Read(va uint32, buf []byte, user bool) (int, *Fault) {
	return as.access(va, buf, false, user)
}

// Write copies data to va. On a fault it returns the number of bytes copied
// before the faulting page.
func (as *AddressSpace) Write(va uint32, data []byte, user bool) (int, *Fault) {
	return as.access(va, data, true, user)
}

func (as *AddressSpace) access(va uint32, buf []byte, write, user bool) (int, *Fault) {
	as.mu.RLock()
	defer as.mu.RUnlock()

	var done int
	for done < len(buf) {
		cur := va + uint32(done)
		frame, fault := as.translate(cur, write, user)
		if fault != nil {
			return done, fault
		}

		page := as.mem.Bytes(frame)[mm.PageOffset(cur):]
		if write {
			done += kernel.Memcopy(buf[done:], page)
		} else {
			done += kernel.Memcopy(page, buf[done:])
		}
	}

	return done, nil
}

// UserMemCheck reports whether an environment may access [va, va+size) with
// the given permissions. FlagPresent is always required and every page must
// be below mm.ULim. When the check fails, the first offending address is
// returned; it is va itself if the first page is the culprit.
func (as *AddressSpace) UserMemCheck(va, size uint32, perm PageTableEntryFlag) (uint32, bool) {
	as.mu.RLock()
	defer as.mu.RUnlock()

	perm |= FlagPresent
	end := uint64(va) + uint64(size)
	for addr := uint64(mm.RoundDown(va, mm.PageSize)); addr < end; addr += mm.PageSize {
		cur := uint32(addr)
		if addr >= mm.ULim || !as.entry(cur).HasFlags(perm) {
			if cur < va {
				cur = va
			}
			return cur, false
		}
	}

	return 0, true
}
