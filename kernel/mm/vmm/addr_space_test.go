package vmm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/pmm"
)

func newTestAddressSpace(t *testing.T) (*pmm.Memory, *AddressSpace) {
	t.Helper()

	mem := pmm.New(128)
	as, err := NewAddressSpace(mem)
	if err != nil {
		t.Fatal(err)
	}
	return mem, as
}

func allocFrame(t *testing.T, mem *pmm.Memory) mm.Frame {
	t.Helper()

	f, err := mem.Alloc(pmm.AllocZero)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestInsertLookupRemove(t *testing.T) {
	mem, as := newTestAddressSpace(t)
	frame := allocFrame(t, mem)
	va := uint32(mm.UText + 0x3000)

	if as.GroupPresent(mm.PDX(va)) {
		t.Fatal("expected empty address space to have no directory groups")
	}

	if _, _, ok := as.Lookup(va); ok {
		t.Fatal("expected lookup of unmapped address to fail")
	}

	if err := as.Insert(va+0x10, frame, FlagUser|FlagRW); err != nil {
		t.Fatal(err)
	}

	if !as.GroupPresent(mm.PDX(va)) {
		t.Fatal("expected Insert to install a page table")
	}

	got, pte, ok := as.Lookup(va + 0xfff)
	if !ok || got != frame {
		t.Fatalf("expected lookup to return frame %d; got %d (ok: %t)", frame, got, ok)
	}

	if exp := FlagPresent | FlagUser | FlagRW; pte.Flags() != exp {
		t.Fatalf("expected flags %x; got %x", exp, pte.Flags())
	}

	if got := mem.Refs(frame); got != 1 {
		t.Fatalf("expected frame to have 1 reference; got %d", got)
	}

	// Re-inserting the same frame with different flags must not free it.
	if err := as.Insert(va, frame, FlagUser|0x800); err != nil {
		t.Fatal(err)
	}
	if got := mem.Refs(frame); got != 1 || !mem.Allocated(frame) {
		t.Fatalf("expected frame to stay allocated with 1 reference; got %d", got)
	}
	if exp, got := FlagPresent|FlagUser|0x800, as.Entry(va).Flags(); got != exp {
		t.Fatalf("expected flags %x; got %x", exp, got)
	}

	as.Remove(va)
	if _, _, ok := as.Lookup(va); ok {
		t.Fatal("expected lookup after Remove to fail")
	}

	if mem.Allocated(frame) {
		t.Fatal("expected frame to be freed after its last mapping was removed")
	}

	// Removing again is a no-op.
	as.Remove(va)
	as.Remove(0x12345000)
}

func TestEntryWithoutTable(t *testing.T) {
	_, as := newTestAddressSpace(t)

	if got := as.Entry(mm.UXStackTop - mm.PageSize); got != 0 {
		t.Fatalf("expected zero entry; got %x", got)
	}
}

func TestMappingsAndRelease(t *testing.T) {
	mem, as := newTestAddressSpace(t)
	free := mem.FreeCount()

	type mapping struct {
		VA    uint32
		Flags PageTableEntryFlag
	}

	exp := []mapping{
		{mm.UText, FlagPresent | FlagUser},
		{mm.UText + mm.PageSize, FlagPresent | FlagUser | FlagRW},
		{mm.UStackTop - mm.PageSize, FlagPresent | FlagUser | FlagRW},
		{mm.UXStackTop - mm.PageSize, FlagPresent | FlagUser | FlagRW},
	}

	for _, m := range exp {
		if err := as.Insert(m.VA, allocFrame(t, mem), m.Flags); err != nil {
			t.Fatal(err)
		}
	}

	var got []mapping
	as.Mappings(func(va uint32, pte PTE) bool {
		got = append(got, mapping{va, pte.Flags()})
		return true
	})

	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("mappings mismatch (-want +got):\n%s", diff)
	}

	var visited int
	as.Mappings(func(uint32, PTE) bool {
		visited++
		return false
	})
	if visited != 1 {
		t.Fatalf("expected Mappings to stop after the callback returned false; visited %d", visited)
	}

	as.Release()

	// Only the page directory was allocated before the mappings were
	// added and it is freed by Release too.
	if got := mem.FreeCount(); got != free+1 {
		t.Fatalf("expected Release to free every frame; free count %d, want %d", got, free+1)
	}
}

func TestSharedFrameRefCounts(t *testing.T) {
	mem, parent := newTestAddressSpace(t)
	child, err := NewAddressSpace(mem)
	if err != nil {
		t.Fatal(err)
	}

	frame := allocFrame(t, mem)
	va := uint32(mm.UText)
	if err := parent.Insert(va, frame, FlagUser|FlagRW); err != nil {
		t.Fatal(err)
	}
	if err := child.Insert(va, frame, FlagUser|0x800); err != nil {
		t.Fatal(err)
	}

	if got := mem.Refs(frame); got != 2 {
		t.Fatalf("expected 2 references; got %d", got)
	}

	parent.Release()
	if !mem.Allocated(frame) {
		t.Fatal("expected shared frame to survive the release of one address space")
	}

	child.Release()
	if mem.Allocated(frame) {
		t.Fatal("expected shared frame to be freed once both address spaces are released")
	}
}

func TestInsertOutOfMemory(t *testing.T) {
	mem := pmm.New(64)
	as, err := NewAddressSpace(mem)
	if err != nil {
		t.Fatal(err)
	}

	frame := allocFrame(t, mem)
	for mem.FreeCount() > 0 {
		allocFrame(t, mem)
	}

	// A new page table is needed for this group and none can be allocated.
	if err := as.Insert(mm.UText, frame, FlagUser); err == nil {
		t.Fatal("expected Insert to fail when no page table can be allocated")
	}

	if got := mem.Refs(frame); got != 0 {
		t.Fatalf("expected failed Insert to leave the frame unreferenced; got %d", got)
	}
}
