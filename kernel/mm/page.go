// Package mm contains the page-size constants, the frame and page index types
// and the virtual memory layout shared by the kernel and user environments.
package mm

import "math"

// Frame describes a physical memory page index.
type Frame uint32

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint32)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uint32 {
	return uint32(f) << PageShift
}

// FrameFromAddress returns a Frame that corresponds to the given physical
// address. Addresses that are not page-aligned are rounded down to the frame
// that contains them.
func FrameFromAddress(physAddr uint32) Frame {
	return Frame(physAddr >> PageShift)
}

// Page describes a virtual memory page index.
type Page uint32

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uint32 {
	return uint32(p) << PageShift
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. Addresses that are not page-aligned are rounded down to the page
// that contains them.
func PageFromAddress(virtAddr uint32) Page {
	return Page(virtAddr >> PageShift)
}

// PDX returns the page directory index of a virtual address.
func PDX(va uint32) uint32 {
	return (va >> PDXShift) & (NPDEntries - 1)
}

// PTX returns the page table index of a virtual address.
func PTX(va uint32) uint32 {
	return (va >> PageShift) & (NPTEntries - 1)
}

// PageOffset returns the offset of a virtual address within its page.
func PageOffset(va uint32) uint32 {
	return va & (PageSize - 1)
}

// RoundDown rounds addr down to the nearest multiple of n, which must be a
// power of two.
func RoundDown(addr, n uint32) uint32 {
	return addr &^ (n - 1)
}

// RoundUp rounds addr up to the nearest multiple of n, which must be a power
// of two.
func RoundUp(addr, n uint32) uint32 {
	return RoundDown(addr+n-1, n)
}
