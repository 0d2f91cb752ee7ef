package mem

import "strings"

// PTE is a page table or page directory entry.
type PTE uint32

// Entry bits.
const (
	PTE_P     PTE = 0x001 // present
	PTE_W     PTE = 0x002 // writeable
	PTE_U     PTE = 0x004 // user
	PTE_PWT   PTE = 0x008 // write-through
	PTE_PCD   PTE = 0x010 // cache-disable
	PTE_A     PTE = 0x020 // accessed
	PTE_D     PTE = 0x040 // dirty
	PTE_PS    PTE = 0x080 // page size
	PTE_G     PTE = 0x100 // global
	PTE_AVAIL PTE = 0xe00 // available for software use

	// PTE_COW marks a shared page that must be duplicated on write.
	PTE_COW PTE = 0x800

	// PTE_SYSCALL is the set of bits user code may pass to the paging syscalls.
	PTE_SYSCALL = PTE_AVAIL | PTE_P | PTE_W | PTE_U
)

// Page fault error code bits.
const (
	FEC_PR uint32 = 0x1 // protection violation, page was present
	FEC_WR uint32 = 0x2 // fault caused by a write
	FEC_U  uint32 = 0x4 // fault occurred in user mode
)

// Addr returns the physical address held in the entry.
func (p PTE) Addr() PhysAddr { return PhysAddr(uint32(p) &^ 0xfff) }

// Flags returns the low twelve flag bits.
func (p PTE) Flags() PTE { return p & 0xfff }

// Has reports whether all of flags are set.
func (p PTE) Has(flags PTE) bool { return p&flags == flags }

// Present reports whether the entry maps anything.
func (p PTE) Present() bool { return p&PTE_P != 0 }

// MakePTE combines a physical address and flag bits.
func MakePTE(pa PhysAddr, flags PTE) PTE {
	return PTE(uint32(pa)&^0xfff) | flags&0xfff
}

// String renders the flags the way the monitor prints them, e.g. "-cuwp".
func (p PTE) String() string {
	var b strings.Builder
	flag := func(set bool, c byte) {
		if set {
			b.WriteByte(c)
		} else {
			b.WriteByte('-')
		}
	}
	flag(p&PTE_D != 0, 'd')
	flag(p&PTE_A != 0, 'a')
	flag(p&PTE_COW != 0, 'c')
	flag(p&PTE_U != 0, 'u')
	flag(p&PTE_W != 0, 'w')
	flag(p&PTE_P != 0, 'p')
	return b.String()
}

// CheckUserPerm validates perm bits handed to a paging syscall: PTE_U and
// PTE_P must be set, nothing outside PTE_SYSCALL may be, and a mapping is
// never both writable and copy-on-write.
func CheckUserPerm(perm PTE) bool {
	if !perm.Has(PTE_U | PTE_P) {
		return false
	}
	if perm&^PTE_SYSCALL != 0 {
		return false
	}
	return !perm.Has(PTE_W | PTE_COW)
}
