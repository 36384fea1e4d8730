package syscall

// Number identifies a system call. User environments pass it in EAX.
type Number uint32

// The system call table.
const (
	Cputs Number = iota
	Cgetc
	Getenvid
	EnvDestroy
	PageAlloc
	PageMap
	PageUnmap
	Exofork
	EnvSetStatus
	EnvSetPgfaultUpcall
	Yield

	numSyscalls
)

var numberNames = [numSyscalls]string{
	Cputs:               "cputs",
	Cgetc:               "cgetc",
	Getenvid:            "getenvid",
	EnvDestroy:          "env_destroy",
	PageAlloc:           "page_alloc",
	PageMap:             "page_map",
	PageUnmap:           "page_unmap",
	Exofork:             "exofork",
	EnvSetStatus:        "env_set_status",
	EnvSetPgfaultUpcall: "env_set_pgfault_upcall",
	Yield:               "yield",
}

// String returns the name of the system call.
func (n Number) String() string {
	if n < numSyscalls {
		return numberNames[n]
	}
	return "unknown"
}
