package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = 1 << PageShift

	// PDXShift is the offset of the page directory index in a linear address.
	PDXShift = 22

	// NPDEntries is the number of entries in a page directory.
	NPDEntries = 1024

	// NPTEntries is the number of entries in a page table.
	NPTEntries = 1024

	// PTSize is the number of bytes mapped by a single page directory entry.
	PTSize = PageSize * NPTEntries
)

// Virtual memory layout. Everything below ULim is visible to user
// environments; UTop and below is writable by them.
//
//	KernBase/KStackTop ----> +------------------------------+ 0xf0000000
//	                         |     CPU0 kernel stack        |
//	                         |     ... per-CPU stacks       |
//	ULim, MMIOBase --------> +------------------------------+ 0xef800000
//	UVPT ------------------> +------------------------------+ 0xef400000
//	                         |  RO page tables (uvpt/uvpd)  |
//	UPages ----------------> +------------------------------+ 0xef000000
//	                         |  RO pages                    |
//	UTop, UEnvs -----------> +------------------------------+ 0xeec00000
//	UXStackTop               |     user exception stack     |
//	                         +------------------------------+ 0xeebff000
//	                         |       empty memory           |
//	UStackTop -------------> +------------------------------+ 0xeebfe000
//	                         |     normal user stack        |
//	                         +------------------------------+
//	                         |            ...               |
//	UText -----------------> +------------------------------+ 0x00800000
//	PFTemp ----------------> |       empty memory           | 0x007ff000
//	UTemp -----------------> +------------------------------+ 0x00400000
const (
	KernBase  = 0xf0000000
	KStackTop = KernBase
	KStkSize  = 8 * PageSize
	KStkGap   = 8 * PageSize

	ULim   = 0xef800000
	UVPT   = ULim - PTSize
	UPages = UVPT - PTSize
	UEnvs  = UPages - PTSize

	UTop       = UEnvs
	UXStackTop = UTop
	UStackTop  = UTop - 2*PageSize

	UText  = 2 * PTSize
	UTemp  = PTSize
	PFTemp = UTemp + PTSize - PageSize
)
