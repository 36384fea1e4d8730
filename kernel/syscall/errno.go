package syscall

import "fmt"

// Errno is a kernel error code. System calls return errors as negative
// Errno values in EAX.
type Errno int32

const (
	// EUnspecified is returned for errors without a more specific code.
	EUnspecified Errno = 1 + iota

	// EBadEnv is returned when an environment does not exist or the
	// caller may not act on it.
	EBadEnv

	// EInval is returned for invalid arguments.
	EInval

	// ENoMem is returned when the kernel runs out of memory.
	ENoMem

	// ENoFreeEnv is returned when the environment table is full.
	ENoFreeEnv

	// EFault is returned for bad memory accesses.
	EFault
)

var errnoNames = [...]string{
	EUnspecified: "unspecified error",
	EBadEnv:      "bad environment",
	EInval:       "invalid parameter",
	ENoMem:       "out of memory",
	ENoFreeEnv:   "out of environments",
	EFault:       "segmentation fault",
}

// Error implements the error interface.
func (e Errno) Error() string {
	if e > 0 && int(e) < len(errnoNames) {
		return errnoNames[e]
	}
	return fmt.Sprintf("error %d", int32(e))
}

// Result returns the value a system call stores in EAX to report e.
func (e Errno) Result() int32 {
	return -int32(e)
}
