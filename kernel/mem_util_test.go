package kernel

import "testing"

func TestMemset(t *testing.T) {
	for _, size := range []int{0, 1, 7, 4096} {
		buf := make([]byte, size)
		Memset(buf, 0xfe)

		for i, b := range buf {
			if b != 0xfe {
				t.Fatalf("[size %d] expected byte %d to be 0xfe; got 0x%x", size, i, b)
			}
		}
	}
}

func TestMemcopy(t *testing.T) {
	src := []byte("the big brown fox")
	dst := make([]byte, 7)

	if n := Memcopy(src, dst); n != len(dst) {
		t.Fatalf("expected to copy %d bytes; copied %d", len(dst), n)
	}

	if got := string(dst); got != "the big" {
		t.Fatalf("expected dst to contain %q; got %q", "the big", got)
	}

	if n := Memcopy(nil, dst); n != 0 {
		t.Fatalf("expected copying from an empty slice to copy 0 bytes; copied %d", n)
	}
}
