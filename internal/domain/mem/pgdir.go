package mem

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
)

// AddrSpace is one environment's two-level page table. The directory and
// every page table live in physical pages drawn from the same pool as user
// pages.
type AddrSpace struct {
	phys  *Phys
	pgdir PhysAddr
}

// Mapping is one live translation.
type Mapping struct {
	VA   uint32
	PA   PhysAddr
	Perm PTE
}

// Fault describes a failed translation.
type Fault struct {
	VA  uint32
	Err uint32
}

func (f *Fault) Error() string {
	kind := "read"
	if f.Err&FEC_WR != 0 {
		kind = "write"
	}
	what := "not-present"
	if f.Err&FEC_PR != 0 {
		what = "protection"
	}
	return fmt.Sprintf("%s fault at va %08x (%s)", kind, f.VA, what)
}

// NewAddrSpace allocates an empty page directory and installs the
// read-only self mapping at UVPT.
func NewAddrSpace(p *Phys) (*AddrSpace, error) {
	pgdir, err := p.Alloc(true)
	if err != nil {
		return nil, err
	}
	p.IncRef(pgdir)
	p.setEntry(pgdir, PDX(UVPT), MakePTE(pgdir, PTE_P|PTE_U))
	return &AddrSpace{phys: p, pgdir: pgdir}, nil
}

// PgDir returns the physical address of the page directory.
func (as *AddrSpace) PgDir() PhysAddr { return as.pgdir }

// Walk returns the physical address of the PTE for va. With create set a
// missing page table is allocated; ok is false when the table is missing
// and create is unset.
func (as *AddrSpace) Walk(va uint32, create bool) (pte PhysAddr, ok bool, err error) {
	pde := as.phys.entry(as.pgdir, PDX(va))
	if !pde.Present() {
		if !create {
			return 0, false, nil
		}
		pt, err := as.phys.Alloc(true)
		if err != nil {
			return 0, false, err
		}
		as.phys.IncRef(pt)
		pde = MakePTE(pt, PTE_P|PTE_W|PTE_U)
		as.phys.setEntry(as.pgdir, PDX(va), pde)
	}
	return pde.Addr() + PhysAddr(PTX(va)*4), true, nil
}

// Insert maps the page at pa at va with perm|PTE_P. An existing mapping at
// va is removed first. Mapping the same page again only changes its
// permissions.
func (as *AddrSpace) Insert(pa PhysAddr, va uint32, perm PTE) error {
	pte, _, err := as.Walk(va, true)
	if err != nil {
		return err
	}
	// Take the new reference first so re-inserting the only mapping of a
	// page does not free it.
	as.phys.IncRef(pa)
	if PTE(as.phys.Load32(pte)).Present() {
		as.Remove(va)
	}
	as.phys.Store32(pte, uint32(MakePTE(pa, perm|PTE_P)))
	return nil
}

// Lookup returns the page mapped at va and its entry.
func (as *AddrSpace) Lookup(va uint32) (PhysAddr, PTE, bool) {
	pte, ok, _ := as.Walk(va, false)
	if !ok {
		return 0, 0, false
	}
	e := PTE(as.phys.Load32(pte))
	if !e.Present() {
		return 0, 0, false
	}
	return e.Addr(), e, true
}

// Remove unmaps va, dropping a reference to the page. Removing an
// unmapped address does nothing.
func (as *AddrSpace) Remove(va uint32) {
	pte, ok, _ := as.Walk(va, false)
	if !ok {
		return
	}
	e := PTE(as.phys.Load32(pte))
	if !e.Present() {
		return
	}
	as.phys.Store32(pte, 0)
	as.phys.DecRef(e.Addr())
}

// Destroy unmaps every user page, then frees the page tables and the
// directory. The address space must not be used afterwards.
func (as *AddrSpace) Destroy() {
	for pdx := uint32(0); pdx < PDX(UTOP); pdx++ {
		pde := as.phys.entry(as.pgdir, pdx)
		if !pde.Present() {
			continue
		}
		pt := pde.Addr()
		for ptx := uint32(0); ptx < NPTENTRIES; ptx++ {
			if as.phys.entry(pt, ptx).Present() {
				as.Remove(PGADDR(pdx, ptx, 0))
			}
		}
		as.phys.setEntry(as.pgdir, pdx, 0)
		as.phys.DecRef(pt)
	}
	as.phys.setEntry(as.pgdir, PDX(UVPT), 0)
	as.phys.DecRef(as.pgdir)
	as.pgdir = 0
}

// Translate resolves a user-mode access to va. Both levels must be present
// and user accessible, and writable for a write.
func (as *AddrSpace) Translate(va uint32, write bool) (PhysAddr, *Fault) {
	ferr := FEC_U
	if write {
		ferr |= FEC_WR
	}
	need := PTE_P | PTE_U
	if write {
		need |= PTE_W
	}
	pde := as.phys.entry(as.pgdir, PDX(va))
	if !pde.Present() {
		return 0, &Fault{VA: va, Err: ferr}
	}
	pte := as.phys.entry(pde.Addr(), PTX(va))
	if !pte.Present() {
		return 0, &Fault{VA: va, Err: ferr}
	}
	if !pde.Has(need) || !pte.Has(need) {
		return 0, &Fault{VA: va, Err: ferr | FEC_PR}
	}
	return pte.Addr() + PhysAddr(PGOFF(va)), nil
}

// Check verifies that user code may access [va, va+n) with perm, page by
// page. It returns the first inaccessible address on failure.
func (as *AddrSpace) Check(va, n uint32, perm PTE) (uint32, bool) {
	if n == 0 {
		return 0, true
	}
	end := uint64(va) + uint64(n)
	if end > uint64(ULIM) {
		if va >= ULIM {
			return va, false
		}
		return ULIM, false
	}
	perm |= PTE_P
	for a := RoundDown(va, PGSIZE); uint64(a) < end; a += PGSIZE {
		pde := as.phys.entry(as.pgdir, PDX(a))
		pte := PTE(0)
		if pde.Present() {
			pte = as.phys.entry(pde.Addr(), PTX(a))
		}
		if !pde.Has(perm) || !pte.Has(perm) {
			if a < va {
				return va, false
			}
			return a, false
		}
	}
	return 0, true
}

// Read copies user memory at va into dst with kernel privilege. The range
// must already have passed Check.
func (as *AddrSpace) Read(va uint32, dst []byte) error {
	for len(dst) > 0 {
		pa, ok := as.kernelPA(va)
		if !ok {
			return errno.ErrFault
		}
		n := copy(dst, as.phys.span(pa, int(PGSIZE-PGOFF(va))))
		dst = dst[n:]
		va += uint32(n)
	}
	return nil
}

// Write copies src into user memory at va with kernel privilege. The range
// must already have passed Check.
func (as *AddrSpace) Write(va uint32, src []byte) error {
	for len(src) > 0 {
		pa, ok := as.kernelPA(va)
		if !ok {
			return errno.ErrFault
		}
		n := copy(as.phys.span(pa, int(PGSIZE-PGOFF(va))), src)
		src = src[n:]
		va += uint32(n)
	}
	return nil
}

func (as *AddrSpace) kernelPA(va uint32) (PhysAddr, bool) {
	pa, _, ok := as.Lookup(va)
	if !ok {
		return 0, false
	}
	return pa + PhysAddr(PGOFF(va)), true
}

// Mappings lists the live translations in [start, end), below UTOP.
func (as *AddrSpace) Mappings(start, end uint32) []Mapping {
	var out []Mapping
	if end > UTOP || end == 0 {
		end = UTOP
	}
	start = RoundDown(start, PGSIZE)
	for va := start; va < end; {
		pde := as.phys.entry(as.pgdir, PDX(va))
		if !pde.Present() {
			next := uint64(RoundDown(va, PTSIZE)) + PTSIZE
			if next >= uint64(end) {
				break
			}
			va = uint32(next)
			continue
		}
		pte := as.phys.entry(pde.Addr(), PTX(va))
		if pte.Present() {
			out = append(out, Mapping{VA: va, PA: pte.Addr(), Perm: pte.Flags()})
		}
		va += PGSIZE
		if va == 0 {
			break
		}
	}
	return out
}
