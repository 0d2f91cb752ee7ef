package ulib

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
)

const cowHandlerName = "ulib.cow"

// SetPgfaultHandler registers h under name and makes it the caller's page
// fault handler. The exception stack is allocated the first time a
// handler is set.
func SetPgfaultHandler(u *kernel.User, name string, h kernel.Handler) (kernel.HandlerRef, error) {
	ref := u.Image().Handler(name, h)
	if u.ThisEnv().PgfaultUpcall == 0 {
		if err := PageAlloc(u, 0, mem.UXSTACKTOP-mem.PGSIZE, PermRW); err != nil {
			return 0, fmt.Errorf("set_pgfault_handler: %w", err)
		}
	}
	if err := EnvSetPgfaultUpcall(u, 0, ref); err != nil {
		return 0, fmt.Errorf("set_pgfault_handler: %w", err)
	}
	return ref, nil
}

// pte reads the caller's page table entry for va through UVPT, or 0 when
// the page table is absent.
func pte(u *kernel.User, va uint32) mem.PTE {
	if !mem.PTE(u.Load32(mem.UVPDEntry(va))).Present() {
		return 0
	}
	return mem.PTE(u.Load32(mem.UVPTEntry(va)))
}

// cowFault gives the faulting environment a private writable copy of a
// copy-on-write page.
func cowFault(u *kernel.User, utf *env.UTrapframe) {
	addr := utf.FaultVA
	if utf.Err&mem.FEC_WR == 0 || !pte(u, addr).Has(mem.PTE_P|mem.PTE_COW) {
		Panicf(u, "pgfault: va %08x err %x eip %08x not a write to a COW page", addr, utf.Err, utf.EIP)
		return
	}
	addr = mem.RoundDown(addr, mem.PGSIZE)

	if err := PageAlloc(u, 0, mem.PFTEMP, PermRW); err != nil {
		Panicf(u, "pgfault: page alloc: %v", err)
		return
	}
	page := make([]byte, mem.PGSIZE)
	u.Load(addr, page)
	u.Store(mem.PFTEMP, page)
	if err := PageMap(u, 0, mem.PFTEMP, 0, addr, PermRW); err != nil {
		Panicf(u, "pgfault: page map: %v", err)
		return
	}
	if err := PageUnmap(u, 0, mem.PFTEMP); err != nil {
		Panicf(u, "pgfault: page unmap: %v", err)
	}
}

// duppage shares the page at va with child. Writable and copy-on-write
// pages become copy-on-write in both; read-only pages are shared as they
// are.
func duppage(u *kernel.User, child env.ID, va uint32, entry mem.PTE) error {
	if entry&(mem.PTE_W|mem.PTE_COW) == 0 {
		return PageMap(u, 0, va, child, va, PermRO)
	}
	if err := PageMap(u, 0, va, child, va, PermCOW); err != nil {
		return err
	}
	return PageMap(u, 0, va, 0, va, PermCOW)
}

// ForkResult is what fork returns to each side: the child's id in the
// parent, Child set in the child.
type ForkResult struct {
	Child bool
	ID    env.ID
}

// Fork creates a copy-on-write child of the caller that starts at resume.
// The parent gets the child's id; the child should call ForkReturn.
func Fork(u *kernel.User, resume kernel.EntryRef) (ForkResult, error) {
	ref, err := SetPgfaultHandler(u, cowHandlerName, cowFault)
	if err != nil {
		return ForkResult{}, fmt.Errorf("fork: %w", err)
	}
	child, err := Exofork(u, resume)
	if err != nil {
		return ForkResult{}, fmt.Errorf("fork: %w", err)
	}

	fail := func(err error) (ForkResult, error) {
		EnvDestroy(u, child)
		return ForkResult{}, fmt.Errorf("fork: %w", err)
	}
	for pdx := uint32(0); pdx < mem.PDX(mem.UTOP); pdx++ {
		if !mem.PTE(u.Load32(mem.UVPDEntry(pdx << mem.PDXSHIFT))).Present() {
			continue
		}
		for ptx := uint32(0); ptx < mem.NPTENTRIES; ptx++ {
			va := mem.PGADDR(pdx, ptx, 0)
			if va == mem.UXSTACKTOP-mem.PGSIZE {
				continue
			}
			entry := mem.PTE(u.Load32(mem.UVPTEntry(va)))
			if !entry.Present() {
				continue
			}
			if err := duppage(u, child, va, entry); err != nil {
				return fail(err)
			}
		}
	}
	if err := PageAlloc(u, child, mem.UXSTACKTOP-mem.PGSIZE, PermRW); err != nil {
		return fail(err)
	}
	if err := EnvSetPgfaultUpcall(u, child, ref); err != nil {
		return fail(err)
	}
	if err := EnvSetStatus(u, child, env.Runnable); err != nil {
		return fail(err)
	}
	return ForkResult{ID: child}, nil
}

// ForkReturn is the child's view of Fork, decoded from the registers it
// was started with.
func ForkReturn(u *kernel.User) ForkResult {
	if eax := u.StartFrame().Regs.EAX; eax != 0 {
		return ForkResult{ID: env.ID(eax)}
	}
	return ForkResult{Child: true}
}
