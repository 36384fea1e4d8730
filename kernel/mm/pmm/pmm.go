// Package pmm simulates the machine's physical memory: a fixed array of page
// frames, a bitmap frame allocator and per-frame reference counts.
package pmm

import (
	"sync"

	"gopherjos/kernel"
	"gopherjos/kernel/mm"
)

var (
	errOutOfMemory   = &kernel.Error{Module: "pmm", Message: "out of physical memory"}
	errInvalidFrame  = &kernel.Error{Module: "pmm", Message: "frame is outside physical memory"}
	errFrameNotInUse = &kernel.Error{Module: "pmm", Message: "frame is not allocated"}
	errFrameInUse    = &kernel.Error{Module: "pmm", Message: "frame is still referenced"}
)

// AllocFlag controls the behavior of Alloc.
type AllocFlag uint8

const (
	// AllocZero clears the contents of the allocated frame.
	AllocZero AllocFlag = 1 << iota
)

// Memory is the physical memory of a simulated machine. Frame 0 is always
// reserved so that a zeroed page table entry never refers to usable memory.
type Memory struct {
	mu sync.Mutex

	data []byte

	// refs holds the number of page table entries that point to each
	// frame. Page tables themselves hold one reference to their frame.
	refs []uint32

	// freeBitmap tracks used/free frames. A set bit marks a frame as
	// allocated.
	freeBitmap []uint64

	// freeCount tracks the frames that can still be allocated.
	freeCount uint32

	// nextFree is where the next bitmap scan begins.
	nextFree uint32
}

// New returns a Memory with the requested number of frames.
func New(frames int) *Memory {
	m := &Memory{
		data:       make([]byte, frames*mm.PageSize),
		refs:       make([]uint32, frames),
		freeBitmap: make([]uint64, (frames+63)>>6),
		freeCount:  uint32(frames),
	}

	m.markFrame(0, true)
	return m
}

// Frames returns the total number of frames.
func (m *Memory) Frames() int {
	return len(m.refs)
}

// FreeCount returns the number of frames that are not allocated.
func (m *Memory) FreeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.freeCount)
}

// markFrame flags a frame as allocated or free.
func (m *Memory) markFrame(f mm.Frame, allocated bool) {
	block, mask := f>>6, uint64(1)<<(63-(f&63))

	switch {
	case allocated && m.freeBitmap[block]&mask == 0:
		m.freeBitmap[block] |= mask
		m.freeCount--
	case !allocated && m.freeBitmap[block]&mask != 0:
		m.freeBitmap[block] &^= mask
		m.freeCount++
	}
}

// Alloc reserves a free frame. The frame's reference count is zero; callers
// that install it in a page table are responsible for incrementing it.
func (m *Memory) Alloc(flags AllocFlag) (mm.Frame, *kernel.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.freeCount == 0 {
		return mm.InvalidFrame, errOutOfMemory
	}

	total := uint32(len(m.refs))
	for i := uint32(0); i < total; i++ {
		f := mm.Frame((m.nextFree + i) % total)
		block, mask := f>>6, uint64(1)<<(63-(f&63))

		// Skip fully allocated blocks
		if m.freeBitmap[block] == ^uint64(0) {
			i += 63 - uint32(f&63)
			continue
		}

		if m.freeBitmap[block]&mask != 0 {
			continue
		}

		m.markFrame(f, true)
		m.nextFree = uint32(f) + 1
		if flags&AllocZero != 0 {
			kernel.Memset(m.bytes(f), 0)
		}
		return f, nil
	}

	return mm.InvalidFrame, errOutOfMemory
}

// Free returns an unreferenced frame to the allocator.
func (m *Memory) Free(f mm.Frame) *kernel.Error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(f); err != nil {
		return err
	}

	if m.refs[f] != 0 {
		return errFrameInUse
	}

	m.markFrame(f, false)
	return nil
}

// IncRef increments the reference count of an allocated frame.
func (m *Memory) IncRef(f mm.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(f); err != nil {
		panic(err)
	}
	m.refs[f]++
}

// DecRef decrements the reference count of an allocated frame, freeing it
// when the count drops to zero.
func (m *Memory) DecRef(f mm.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(f); err != nil {
		panic(err)
	}

	if m.refs[f]--; m.refs[f] == 0 {
		m.markFrame(f, false)
	}
}

// Refs returns the reference count of a frame.
func (m *Memory) Refs(f mm.Frame) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int(f) >= len(m.refs) {
		return 0
	}
	return int(m.refs[f])
}

// Allocated reports whether a frame is reserved.
func (m *Memory) Allocated(f mm.Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return int(f) < len(m.refs) && m.freeBitmap[f>>6]&(uint64(1)<<(63-(f&63))) != 0
}

// Bytes returns the contents of a frame. The returned slice aliases the
// simulated physical memory.
func (m *Memory) Bytes(f mm.Frame) []byte {
	if int(f) >= len(m.refs) {
		panic(errInvalidFrame)
	}
	return m.bytes(f)
}

func (m *Memory) bytes(f mm.Frame) []byte {
	off := int(f) * mm.PageSize
	return m.data[off : off+mm.PageSize : off+mm.PageSize]
}

func (m *Memory) check(f mm.Frame) *kernel.Error {
	switch {
	case f == 0 || int(f) >= len(m.refs):
		return errInvalidFrame
	case m.freeBitmap[f>>6]&(uint64(1)<<(63-(f&63))) == 0:
		return errFrameNotInUse
	}
	return nil
}
