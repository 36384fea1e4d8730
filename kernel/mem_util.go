package kernel

// Memset sets all bytes of target to the supplied value. Instead of using a
// for loop, this function uses log2(len(target)) copy calls which is fast for
// the page-sized buffers it is typically called with.
func Memset(target []byte, value byte) {
	if len(target) == 0 {
		return
	}

	// Set first element and make log2(size) optimized copies
	target[0] = value
	for index := 1; index < len(target); index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies min(len(src), len(dst)) bytes from src to dst and returns the
// number of copied bytes.
func Memcopy(src, dst []byte) int {
	if len(src) == 0 || len(dst) == 0 {
		return 0
	}

	return copy(dst, src)
}
