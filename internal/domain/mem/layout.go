package mem

// Paging geometry of the two-level i386 MMU.
const (
	PGSIZE     = 4096
	PGSHIFT    = 12
	PTSIZE     = PGSIZE * NPTENTRIES
	NPDENTRIES = 1024
	NPTENTRIES = 1024
	PTXSHIFT   = 12
	PDXSHIFT   = 22
)

// Virtual memory layout of a user address space.
//
//	ULIM, UVPT + PTSIZE  ->  +---------------------------+
//	                         |  page tables (R-/R-)      |
//	UVPT                 ->  +---------------------------+ 0xef400000
//	                         |  unmapped                 |
//	UTOP, UXSTACKTOP     ->  +---------------------------+ 0xeec00000
//	                         |  exception stack (RW/RW)  |
//	                         +---------------------------+ 0xeebff000
//	                         |  empty (guard)            |
//	USTACKTOP            ->  +---------------------------+ 0xeebfe000
//	                         |  normal user stack        |
//	                         +---------------------------+
//	                         ~                           ~
//	UTEXT                ->  +---------------------------+ 0x00800000
//	PFTEMP               ->  |  fault scratch page       | 0x007ff000
//	UTEMP                ->  +---------------------------+ 0x00400000
const (
	ULIM       uint32 = 0xef800000
	UVPT       uint32 = ULIM - PTSIZE
	UTOP       uint32 = 0xeec00000
	UENVS      uint32 = UTOP
	UXSTACKTOP uint32 = UTOP
	USTACKTOP  uint32 = UTOP - 2*PGSIZE
	UTEXT      uint32 = 2 * PTSIZE
	UTEMP      uint32 = PTSIZE
	PFTEMP     uint32 = UTEMP + PTSIZE - PGSIZE
)

// PDX is the page directory index of va.
func PDX(va uint32) uint32 { return (va >> PDXSHIFT) & 0x3ff }

// PTX is the page table index of va.
func PTX(va uint32) uint32 { return (va >> PTXSHIFT) & 0x3ff }

// PGNUM is the virtual page number of va.
func PGNUM(va uint32) uint32 { return va >> PTXSHIFT }

// PGADDR builds a virtual address from its indices and offset.
func PGADDR(pdx, ptx, off uint32) uint32 {
	return pdx<<PDXSHIFT | ptx<<PTXSHIFT | off
}

// PGOFF is the offset of va within its page.
func PGOFF(va uint32) uint32 { return va & (PGSIZE - 1) }

// RoundDown rounds a down to a multiple of n, a power of two.
func RoundDown(a, n uint32) uint32 { return a &^ (n - 1) }

// RoundUp rounds a up to a multiple of n, a power of two.
func RoundUp(a, n uint32) uint32 { return RoundDown(a+n-1, n) }

// UVPTEntry is the address through which user code reads the PTE of va.
func UVPTEntry(va uint32) uint32 { return UVPT + PGNUM(va)*4 }

// UVPDEntry is the address through which user code reads the PDE of va.
func UVPDEntry(va uint32) uint32 {
	return UVPT + PDX(UVPT)<<PTXSHIFT + PDX(va)*4
}
