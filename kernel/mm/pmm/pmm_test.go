package pmm

import (
	"testing"

	"gopherjos/kernel/mm"
)

func TestAlloc(t *testing.T) {
	m := New(130)

	if exp, got := 129, m.FreeCount(); got != exp {
		t.Fatalf("expected frame 0 to be reserved leaving %d free frames; got %d", exp, got)
	}

	seen := make(map[mm.Frame]bool)
	for i := 0; i < 129; i++ {
		f, err := m.Alloc(0)
		if err != nil {
			t.Fatalf("[alloc %d] unexpected error: %v", i, err)
		}

		if f == 0 {
			t.Fatal("expected frame 0 to never be allocated")
		}

		if seen[f] {
			t.Fatalf("frame %d allocated twice", f)
		}
		seen[f] = true

		if !m.Allocated(f) {
			t.Fatalf("expected frame %d to be flagged as allocated", f)
		}
	}

	if _, err := m.Alloc(0); err != errOutOfMemory {
		t.Fatalf("expected errOutOfMemory; got %v", err)
	}

	if err := m.Free(mm.Frame(7)); err != nil {
		t.Fatal(err)
	}

	f, err := m.Alloc(0)
	if err != nil {
		t.Fatal(err)
	}

	if f != 7 {
		t.Fatalf("expected the only free frame (7) to be allocated; got %d", f)
	}
}

func TestAllocZero(t *testing.T) {
	m := New(64)

	f, err := m.Alloc(0)
	if err != nil {
		t.Fatal(err)
	}

	for i := range m.Bytes(f) {
		m.Bytes(f)[i] = 0xfe
	}

	if err = m.Free(f); err != nil {
		t.Fatal(err)
	}

	// Allocation resumes after the last allocated frame so exhaust the
	// rest of memory before getting f back.
	for {
		next, err := m.Alloc(AllocZero)
		if err != nil {
			t.Fatal(err)
		}
		if next == f {
			break
		}
	}

	for i, b := range m.Bytes(f) {
		if b != 0 {
			t.Fatalf("expected byte %d of frame to be cleared; got %x", i, b)
		}
	}
}

func TestRefCounts(t *testing.T) {
	m := New(64)

	f, err := m.Alloc(0)
	if err != nil {
		t.Fatal(err)
	}

	m.IncRef(f)
	m.IncRef(f)
	if got := m.Refs(f); got != 2 {
		t.Fatalf("expected 2 references; got %d", got)
	}

	if err := m.Free(f); err != errFrameInUse {
		t.Fatalf("expected errFrameInUse; got %v", err)
	}

	m.DecRef(f)
	if !m.Allocated(f) {
		t.Fatal("expected frame to remain allocated while referenced")
	}

	free := m.FreeCount()
	m.DecRef(f)
	if m.Allocated(f) {
		t.Fatal("expected frame to be freed when its last reference is dropped")
	}

	if got := m.FreeCount(); got != free+1 {
		t.Fatalf("expected free count to grow to %d; got %d", free+1, got)
	}
}

func TestInvalidFrames(t *testing.T) {
	m := New(64)

	specs := []struct {
		frame  mm.Frame
		expErr error
	}{
		{0, errInvalidFrame},
		{64, errInvalidFrame},
		{mm.InvalidFrame, errInvalidFrame},
		{5, errFrameNotInUse},
	}

	for specIndex, spec := range specs {
		if err := m.Free(spec.frame); err != spec.expErr {
			t.Errorf("[spec %d] expected Free to return %v; got %v", specIndex, spec.expErr, err)
		}

		func() {
			defer func() {
				if err := recover(); err != spec.expErr {
					t.Errorf("[spec %d] expected IncRef to panic with %v; got %v", specIndex, spec.expErr, err)
				}
			}()
			m.IncRef(spec.frame)
		}()
	}

	defer func() {
		if err := recover(); err != errInvalidFrame {
			t.Errorf("expected Bytes to panic with errInvalidFrame; got %v", err)
		}
	}()
	m.Bytes(64)
}
