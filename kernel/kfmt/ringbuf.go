package kfmt

// ringBufferSize defines size of the ring buffer that keeps recent console
// output. The ring buffer size must always be a power of 2.
const ringBufferSize = 8192

// ringBuffer keeps the last ringBufferSize bytes written to it, discarding
// the oldest bytes once full.
type ringBuffer struct {
	buffer [ringBufferSize]byte

	// wIndex is the next write position and count the number of valid
	// bytes that end at wIndex.
	wIndex, count int
}

// Write appends p to the ring, overwriting the oldest bytes if needed.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (ringBufferSize - 1)
		if rb.count < ringBufferSize {
			rb.count++
		}
	}

	return len(p), nil
}

// Bytes returns a copy of the ring contents in write order.
func (rb *ringBuffer) Bytes() []byte {
	out := make([]byte, 0, rb.count)
	start := (rb.wIndex - rb.count) & (ringBufferSize - 1)
	if start+rb.count <= ringBufferSize {
		return append(out, rb.buffer[start:start+rb.count]...)
	}

	out = append(out, rb.buffer[start:]...)
	return append(out, rb.buffer[:rb.wIndex]...)
}

// Reset discards the ring contents.
func (rb *ringBuffer) Reset() {
	rb.wIndex, rb.count = 0, 0
}
