package mem

import (
	"fmt"
	"math/bits"
	"sync/atomic"
	"unsafe"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
)

// PhysAddr is a physical address.
type PhysAddr uint32

// PageInfo tracks one physical page frame.
type PageInfo struct {
	// Ref counts the mappings and kernel holds that reference the page.
	Ref int32

	next     int32
	free     bool
	reserved bool
}

// Phys is the machine's physical memory: a byte arena plus the page
// frame table. It is not safe for concurrent use, except for the volatile
// word accessors and the bulk copies of pages no other context touches
// (device DMA buffers).
type Phys struct {
	mem      []byte
	pages    []PageInfo
	freeHead int32
	nfree    int
	reserved int
}

// nativeLE records the host byte order; physical memory is little endian.
var nativeLE = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// NewPhys creates npages of zeroed physical memory. The first reserved
// pages are held by the boot image and are never handed out; page 0 is
// always among them.
func NewPhys(npages, reserved int) (*Phys, error) {
	if reserved < 1 {
		reserved = 1
	}
	if npages <= reserved {
		return nil, fmt.Errorf("physical memory of %d pages leaves nothing above %d reserved", npages, reserved)
	}
	if uint64(npages)*PGSIZE > 1<<32 {
		return nil, fmt.Errorf("physical memory of %d pages exceeds 4GB", npages)
	}
	p := &Phys{
		mem:      make([]byte, npages*PGSIZE),
		pages:    make([]PageInfo, npages),
		freeHead: -1,
		reserved: reserved,
	}
	for i := npages - 1; i >= 0; i-- {
		if i < reserved {
			p.pages[i].reserved = true
			continue
		}
		p.push(int32(i))
	}
	return p, nil
}

func (p *Phys) push(n int32) {
	pg := &p.pages[n]
	pg.free = true
	pg.next = p.freeHead
	p.freeHead = n
	p.nfree++
}

// NPages is the number of page frames.
func (p *Phys) NPages() int { return len(p.pages) }

// NFree is the number of pages on the free list.
func (p *Phys) NFree() int { return p.nfree }

// NReserved is the number of boot-reserved pages.
func (p *Phys) NReserved() int { return p.reserved }

// Size is the byte size of physical memory.
func (p *Phys) Size() uint32 { return uint32(len(p.mem)) }

// Alloc removes a page from the free list. The page's reference count
// stays zero; the caller takes the first reference by mapping it or with
// IncRef. With zero set the page contents are cleared.
func (p *Phys) Alloc(zero bool) (PhysAddr, error) {
	if p.freeHead < 0 {
		return 0, errno.ErrNoMem
	}
	n := p.freeHead
	pg := &p.pages[n]
	p.freeHead = pg.next
	pg.next = -1
	pg.free = false
	p.nfree--
	pa := PhysAddr(uint32(n) << PGSHIFT)
	if zero {
		clear(p.mem[pa : pa+PGSIZE])
	}
	return pa, nil
}

// Free returns a page with no references to the free list.
func (p *Phys) Free(pa PhysAddr) {
	n := p.frame(pa)
	pg := &p.pages[n]
	if pg.Ref != 0 {
		panic(fmt.Sprintf("page_free: page %#x still has %d references", uint32(pa), pg.Ref))
	}
	if pg.free || pg.reserved {
		panic(fmt.Sprintf("page_free: page %#x is not allocated", uint32(pa)))
	}
	p.push(n)
}

// IncRef adds a reference to the page holding pa.
func (p *Phys) IncRef(pa PhysAddr) {
	p.pages[p.frame(pa)].Ref++
}

// DecRef drops a reference, freeing the page when none remain.
func (p *Phys) DecRef(pa PhysAddr) {
	pg := &p.pages[p.frame(pa)]
	pg.Ref--
	if pg.Ref == 0 {
		p.Free(pa)
	}
}

// Ref returns the reference count of the page holding pa.
func (p *Phys) Ref(pa PhysAddr) int32 {
	return p.pages[p.frame(pa)].Ref
}

// IsFree reports whether the page holding pa is on the free list.
func (p *Phys) IsFree(pa PhysAddr) bool {
	return p.pages[p.frame(pa)].free
}

// Page returns a copy of the frame table entry for pa.
func (p *Phys) Page(pa PhysAddr) PageInfo {
	return p.pages[p.frame(pa)]
}

func (p *Phys) frame(pa PhysAddr) int32 {
	n := uint32(pa) >> PGSHIFT
	if int(n) >= len(p.pages) {
		panic(fmt.Sprintf("physical address %#x out of range", uint32(pa)))
	}
	return int32(n)
}

func (p *Phys) word(pa PhysAddr) *uint32 {
	if pa&3 != 0 || uint64(pa)+4 > uint64(len(p.mem)) {
		panic(fmt.Sprintf("unaligned or out of range word access at %#x", uint32(pa)))
	}
	return (*uint32)(unsafe.Pointer(&p.mem[pa]))
}

// Load32 reads the little-endian word at pa. The read is never cached or
// reordered with other Load32/Store32 calls.
func (p *Phys) Load32(pa PhysAddr) uint32 {
	v := atomic.LoadUint32(p.word(pa))
	if !nativeLE {
		v = bits.ReverseBytes32(v)
	}
	return v
}

// Store32 writes the little-endian word at pa with the same ordering
// guarantees as Load32.
func (p *Phys) Store32(pa PhysAddr, v uint32) {
	if !nativeLE {
		v = bits.ReverseBytes32(v)
	}
	atomic.StoreUint32(p.word(pa), v)
}

// Read copies len(dst) bytes starting at pa.
func (p *Phys) Read(pa PhysAddr, dst []byte) {
	copy(dst, p.span(pa, len(dst)))
}

// Write copies src into memory starting at pa.
func (p *Phys) Write(pa PhysAddr, src []byte) {
	copy(p.span(pa, len(src)), src)
}

// CopyPage duplicates one full page.
func (p *Phys) CopyPage(dst, src PhysAddr) {
	copy(p.span(dst, PGSIZE), p.span(src, PGSIZE))
}

func (p *Phys) span(pa PhysAddr, n int) []byte {
	end := uint64(pa) + uint64(n)
	if end > uint64(len(p.mem)) {
		panic(fmt.Sprintf("physical range %#x+%d out of range", uint32(pa), n))
	}
	return p.mem[pa:end]
}

// entry reads entry i of the table page at table.
func (p *Phys) entry(table PhysAddr, i uint32) PTE {
	return PTE(p.Load32(table + PhysAddr(i*4)))
}

func (p *Phys) setEntry(table PhysAddr, i uint32, e PTE) {
	p.Store32(table+PhysAddr(i*4), uint32(e))
}
