package tty

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"gopherjos/kernel/gate"
)

func readAll(t *testing.T, cons *Console) string {
	t.Helper()

	var out []byte
	for {
		var b [1]byte
		n, err := cons.Read(b[:])
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			return string(out)
		}
		out = append(out, b[0])
	}
}

func TestReadPollsDevice(t *testing.T) {
	cons := New(strings.NewReader("ls\x00 -l\n"))

	if got, exp := readAll(t, cons), "ls -l\n"; got != exp {
		t.Fatalf("expected to read %q; got %q", exp, got)
	}

	// The device is exhausted.
	if got := readAll(t, cons); got != "" {
		t.Fatalf("expected no more input; got %q", got)
	}
}

func TestHandleIRQBuffersInput(t *testing.T) {
	var dev bytes.Buffer
	cons := New(&dev)

	dev.WriteString("abc")
	cons.HandleIRQ(nil, gate.IRQKbd)

	if got := cons.Buffered(); got != 3 {
		t.Fatalf("expected 3 buffered bytes; got %d", got)
	}

	dev.WriteString("def")
	cons.HandleIRQ(nil, gate.IRQSerial)

	if got, exp := readAll(t, cons), "abcdef"; got != exp {
		t.Fatalf("expected to read %q; got %q", exp, got)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("device error") }

func TestNilAndFailingDevices(t *testing.T) {
	for specIndex, cons := range []*Console{New(nil), New(errReader{})} {
		if got := readAll(t, cons); got != "" {
			t.Errorf("[spec %d] expected no input; got %q", specIndex, got)
		}
		cons.HandleIRQ(nil, gate.IRQKbd)
		if got := cons.Buffered(); got != 0 {
			t.Errorf("[spec %d] expected an empty buffer; got %d", specIndex, got)
		}
	}
}

func TestBufferOverflowDropsInput(t *testing.T) {
	input := strings.Repeat("x", bufSize) + "overflow"
	cons := New(strings.NewReader(input))

	cons.HandleIRQ(nil, gate.IRQKbd)
	if got := cons.Buffered(); got != bufSize {
		t.Fatalf("expected a full buffer of %d bytes; got %d", bufSize, got)
	}

	// Another interrupt finds no room.
	cons.HandleIRQ(nil, gate.IRQKbd)
	if got := cons.Buffered(); got != bufSize {
		t.Fatalf("expected the buffer to stay full; got %d", got)
	}

	var b [1]byte
	if n, _ := cons.Read(b[:]); n != 1 || b[0] != 'x' {
		t.Fatalf("expected to read 'x'; got %q", b[:n])
	}
}
