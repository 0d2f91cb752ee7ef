// Package mem is the address-space manager: physical page frames with
// reference counts, and per-environment two-level page tables stored in
// those frames.
//
// Physical memory is a single byte arena. Page tables hold little-endian
// 32-bit entries, so user code can read its own translations through the
// UVPT self mapping exactly as the MMU sees them.
//
// Invariants:
//   - A page returns to the free list only when its reference count drops
//     to zero; a referenced page is never reallocated.
//   - Every present PTE below UTOP holds one reference on its page.
//   - A user mapping is never writable and copy-on-write at once.
//
// Example Usage:
//
//	phys, _ := mem.NewPhys(1024, 16)
//	as, _ := mem.NewAddrSpace(phys)
//	pa, _ := phys.Alloc(true)
//	_ = as.Insert(pa, 0x2000, mem.PTE_U|mem.PTE_W)
//	pa2, perm, ok := as.Lookup(0x2000)
package mem
