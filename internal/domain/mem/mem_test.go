package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
)

func newPhys(t *testing.T, npages int) *Phys {
	t.Helper()
	p, err := NewPhys(npages, 4)
	require.NoError(t, err)
	return p
}

func TestLayout(t *testing.T) {
	assert.Equal(t, uint32(0xef400000), UVPT)
	assert.Equal(t, uint32(0xeebfe000), USTACKTOP)
	assert.Equal(t, uint32(0x007ff000), PFTEMP)
	assert.Equal(t, uint32(0xef7bd000), UVPDEntry(0))
	assert.Equal(t, UVPT+2*4, UVPTEntry(0x2000))
	assert.Equal(t, uint32(0x3bb), PDX(UTOP))
	assert.Equal(t, uint32(0x1000), RoundUp(1, PGSIZE))
}

func TestCheckUserPerm(t *testing.T) {
	tests := []struct {
		name string
		perm PTE
		ok   bool
	}{
		{"user present", PTE_U | PTE_P, true},
		{"user writable", PTE_U | PTE_P | PTE_W, true},
		{"cow", PTE_U | PTE_P | PTE_COW, true},
		{"missing user", PTE_P | PTE_W, false},
		{"missing present", PTE_U, false},
		{"global bit", PTE_U | PTE_P | PTE_G, false},
		{"writable and cow", PTE_U | PTE_P | PTE_W | PTE_COW, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, CheckUserPerm(tt.perm))
		})
	}
}

func TestPhysAllocReusesLastFreed(t *testing.T) {
	p := newPhys(t, 16)
	assert.Equal(t, 12, p.NFree())

	a, err := p.Alloc(false)
	require.NoError(t, err)
	assert.Equal(t, PhysAddr(4*PGSIZE), a, "reserved pages are never handed out")

	b, err := p.Alloc(false)
	require.NoError(t, err)
	p.IncRef(b)
	p.DecRef(b)
	assert.True(t, p.IsFree(b))

	c, err := p.Alloc(false)
	require.NoError(t, err)
	assert.Equal(t, b, c)
}

func TestPhysExhaustion(t *testing.T) {
	p := newPhys(t, 8)
	for i := 0; i < 4; i++ {
		_, err := p.Alloc(false)
		require.NoError(t, err)
	}
	_, err := p.Alloc(false)
	assert.ErrorIs(t, err, errno.ErrNoMem)
}

func TestPhysAllocZero(t *testing.T) {
	p := newPhys(t, 8)
	pa, err := p.Alloc(false)
	require.NoError(t, err)
	p.Write(pa+100, []byte{1, 2, 3})
	p.Free(pa)

	pa2, err := p.Alloc(true)
	require.NoError(t, err)
	require.Equal(t, pa, pa2)
	buf := make([]byte, 3)
	p.Read(pa2+100, buf)
	assert.Equal(t, []byte{0, 0, 0}, buf)
}

func TestPhysWordsAreLittleEndian(t *testing.T) {
	p := newPhys(t, 8)
	pa, err := p.Alloc(true)
	require.NoError(t, err)
	p.Store32(pa+8, 0x11223344)
	buf := make([]byte, 4)
	p.Read(pa+8, buf)
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, buf)
	assert.Equal(t, uint32(0x11223344), p.Load32(pa+8))
	assert.Panics(t, func() { p.Load32(pa + 2) })
}

func TestFreeReferencedPagePanics(t *testing.T) {
	p := newPhys(t, 8)
	pa, _ := p.Alloc(false)
	p.IncRef(pa)
	assert.Panics(t, func() { p.Free(pa) })
}

func TestInsertLookupRemove(t *testing.T) {
	p := newPhys(t, 32)
	as, err := NewAddrSpace(p)
	require.NoError(t, err)

	pa, err := p.Alloc(true)
	require.NoError(t, err)
	require.NoError(t, as.Insert(pa, 0x2000, PTE_U|PTE_W))

	got, pte, ok := as.Lookup(0x2000)
	require.True(t, ok)
	assert.Equal(t, pa, got)
	assert.True(t, pte.Has(PTE_P|PTE_U|PTE_W))
	assert.Equal(t, int32(1), p.Ref(pa))

	// Same page again at the same address only changes permissions.
	require.NoError(t, as.Insert(pa, 0x2000, PTE_U))
	_, pte, _ = as.Lookup(0x2000)
	assert.False(t, pte.Has(PTE_W))
	assert.Equal(t, int32(1), p.Ref(pa))

	as.Remove(0x2000)
	as.Remove(0x2000)
	_, _, ok = as.Lookup(0x2000)
	assert.False(t, ok)
	assert.True(t, p.IsFree(pa))
}

func TestRefCountTracksMappingsAcrossSpaces(t *testing.T) {
	p := newPhys(t, 32)
	a, err := NewAddrSpace(p)
	require.NoError(t, err)
	b, err := NewAddrSpace(p)
	require.NoError(t, err)

	pa, _ := p.Alloc(true)
	require.NoError(t, a.Insert(pa, 0x1000, PTE_U|PTE_W))
	require.NoError(t, a.Insert(pa, 0x5000, PTE_U))
	require.NoError(t, b.Insert(pa, 0x9000, PTE_U))
	assert.Equal(t, int32(3), p.Ref(pa))

	a.Remove(0x1000)
	b.Remove(0x9000)
	assert.Equal(t, int32(1), p.Ref(pa))
	assert.False(t, p.IsFree(pa))

	a.Remove(0x5000)
	assert.True(t, p.IsFree(pa))

	next, err := p.Alloc(false)
	require.NoError(t, err)
	assert.Equal(t, pa, next, "the last unmapped page is reused first")
}

func TestReplaceMappingReleasesOldPage(t *testing.T) {
	p := newPhys(t, 32)
	as, _ := NewAddrSpace(p)
	old, _ := p.Alloc(true)
	require.NoError(t, as.Insert(old, 0x3000, PTE_U|PTE_W))
	repl, _ := p.Alloc(true)
	require.NoError(t, as.Insert(repl, 0x3000, PTE_U|PTE_W))
	assert.True(t, p.IsFree(old))
	got, _, _ := as.Lookup(0x3000)
	assert.Equal(t, repl, got)
}

func TestDestroyReturnsEveryPage(t *testing.T) {
	p := newPhys(t, 64)
	before := p.NFree()
	as, _ := NewAddrSpace(p)
	for _, va := range []uint32{0x0, 0x1000, 0x800000, USTACKTOP - PGSIZE} {
		pa, err := p.Alloc(true)
		require.NoError(t, err)
		require.NoError(t, as.Insert(pa, va, PTE_U|PTE_W))
	}
	as.Destroy()
	assert.Equal(t, before, p.NFree())
}

func TestWalkOutOfMemory(t *testing.T) {
	p := newPhys(t, 6)
	as, err := NewAddrSpace(p)
	require.NoError(t, err)
	pa, err := p.Alloc(true)
	require.NoError(t, err)
	// The only free page left is taken, so no page table can be built.
	assert.ErrorIs(t, as.Insert(pa, 0x400000, PTE_U), errno.ErrNoMem)
	assert.Equal(t, int32(0), p.Ref(pa))
}

func TestTranslateFaults(t *testing.T) {
	p := newPhys(t, 32)
	as, _ := NewAddrSpace(p)
	pa, _ := p.Alloc(true)
	require.NoError(t, as.Insert(pa, 0x2000, PTE_U))

	got, f := as.Translate(0x2010, false)
	require.Nil(t, f)
	assert.Equal(t, pa+0x10, got)

	_, f = as.Translate(0x2010, true)
	require.NotNil(t, f)
	assert.Equal(t, FEC_PR|FEC_WR|FEC_U, f.Err)
	assert.Equal(t, uint32(0x2010), f.VA)

	_, f = as.Translate(0x7000, false)
	require.NotNil(t, f)
	assert.Equal(t, FEC_U, f.Err)

	_, f = as.Translate(0x40000000, true)
	require.NotNil(t, f)
	assert.Equal(t, FEC_WR|FEC_U, f.Err)
}

func TestSelfMapExposesPTEsReadOnly(t *testing.T) {
	p := newPhys(t, 32)
	as, _ := NewAddrSpace(p)
	pa, _ := p.Alloc(true)
	require.NoError(t, as.Insert(pa, 0x2000, PTE_U|PTE_W))

	pteAddr, f := as.Translate(UVPTEntry(0x2000), false)
	require.Nil(t, f)
	pte := PTE(p.Load32(pteAddr))
	assert.Equal(t, pa, pte.Addr())
	assert.True(t, pte.Has(PTE_U|PTE_W|PTE_P))

	pdeAddr, f := as.Translate(UVPDEntry(0x2000), false)
	require.Nil(t, f)
	assert.True(t, PTE(p.Load32(pdeAddr)).Present())

	_, f = as.Translate(UVPTEntry(0x2000), true)
	require.NotNil(t, f)
	assert.NotZero(t, f.Err&FEC_PR)
}

func TestCheck(t *testing.T) {
	p := newPhys(t, 32)
	as, _ := NewAddrSpace(p)
	for _, va := range []uint32{0x2000, 0x3000} {
		pa, _ := p.Alloc(true)
		require.NoError(t, as.Insert(pa, va, PTE_U|PTE_W))
	}
	ro, _ := p.Alloc(true)
	require.NoError(t, as.Insert(ro, 0x4000, PTE_U))

	_, ok := as.Check(0x2ff0, 0x20, PTE_U|PTE_W)
	assert.True(t, ok)

	bad, ok := as.Check(0x3ff0, 0x20, PTE_U|PTE_W)
	assert.False(t, ok)
	assert.Equal(t, uint32(0x4000), bad)

	_, ok = as.Check(0x3ff0, 0x20, PTE_U)
	assert.True(t, ok)

	bad, ok = as.Check(0x1ff8, 0x10, PTE_U)
	assert.False(t, ok)
	assert.Equal(t, uint32(0x1ff8), bad)

	_, ok = as.Check(ULIM-4, 8, PTE_U)
	assert.False(t, ok)

	_, ok = as.Check(0x9000, 0, PTE_U)
	assert.True(t, ok)
}

func TestKernelReadWriteAcrossPages(t *testing.T) {
	p := newPhys(t, 32)
	as, _ := NewAddrSpace(p)
	for _, va := range []uint32{0x2000, 0x3000} {
		pa, _ := p.Alloc(true)
		require.NoError(t, as.Insert(pa, va, PTE_U))
	}
	data := []byte("spans two pages")
	require.NoError(t, as.Write(0x2ffa, data))
	out := make([]byte, len(data))
	require.NoError(t, as.Read(0x2ffa, out))
	assert.Equal(t, data, out)
	assert.ErrorIs(t, as.Read(0x3ffa, make([]byte, 16)), errno.ErrFault)
}

func TestMappings(t *testing.T) {
	p := newPhys(t, 32)
	as, _ := NewAddrSpace(p)
	for _, va := range []uint32{0x2000, 0x800000, USTACKTOP - PGSIZE} {
		pa, _ := p.Alloc(true)
		require.NoError(t, as.Insert(pa, va, PTE_U|PTE_W))
	}
	all := as.Mappings(0, 0)
	require.Len(t, all, 3)
	assert.Equal(t, uint32(0x2000), all[0].VA)
	assert.Equal(t, USTACKTOP-PGSIZE, all[2].VA)

	some := as.Mappings(0x1000, 0x900000)
	assert.Len(t, some, 2)
}

func TestPTEString(t *testing.T) {
	assert.Equal(t, "---uwp", (PTE_U | PTE_W | PTE_P).String())
	assert.Equal(t, "--cu-p", (PTE_U | PTE_COW | PTE_P).String())
}
