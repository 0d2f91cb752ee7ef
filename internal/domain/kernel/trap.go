package kernel

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
)

// touch performs one access within a page. A failed translation raises a
// page fault; after the upcall returns the access is retried.
func (k *Kernel) touch(r *runner, va uint32, write bool, access func(pa mem.PhysAddr)) {
	for {
		h, utf, ok := k.translate(r, va, write, access)
		if ok && h == nil {
			return
		}
		if !ok {
			panic(unwindExit)
		}
		h(r.user, utf)
		k.mu.Lock()
		r.xstack = r.xstack[:len(r.xstack)-1]
		k.mu.Unlock()
	}
}

// translate runs access on success. On a fault it returns the handler to
// run, or ok=false when the environment was destroyed instead.
func (k *Kernel) translate(r *runner, va uint32, write bool, access func(pa mem.PhysAddr)) (Handler, *env.UTrapframe, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.checkOwnerLocked(r)
	if r.e.Status == env.Dying {
		return nil, nil, false
	}
	pa, fault := r.e.AS.Translate(va, write)
	if fault == nil {
		access(pa)
		return nil, nil, true
	}
	return k.pageFaultLocked(r, fault)
}

// pageFaultLocked pushes a UTrapframe on the user exception stack and
// returns the upcall. Nested faults push below the record of the handler
// already running, leaving one empty word between records.
func (k *Kernel) pageFaultLocked(r *runner, f *mem.Fault) (Handler, *env.UTrapframe, bool) {
	e := r.e
	fail := func(reason string) (Handler, *env.UTrapframe, bool) {
		k.log.Warn("user fault",
			logging.Hex("env", uint32(e.ID)),
			logging.Hex("va", f.VA),
			logging.Hex("err", f.Err),
			logging.Hex("eip", e.TF.EIP),
			zap.String("reason", reason),
		)
		k.metrics.RecordPageFault("killed")
		k.destroyLocked(e, "page_fault")
		return nil, nil, false
	}

	if e.PgfaultUpcall == 0 {
		return fail("no page fault upcall")
	}
	h, ok := k.image.handler(e.PgfaultUpcall)
	if !ok {
		return fail("invalid page fault upcall")
	}

	addr := mem.UXSTACKTOP - env.UTrapframeSize
	if n := len(r.xstack); n > 0 {
		addr = r.xstack[n-1] - 4 - env.UTrapframeSize
	}
	if addr < mem.UXSTACKTOP-mem.PGSIZE || addr > mem.UXSTACKTOP {
		return fail("exception stack overflow")
	}
	if _, ok := e.AS.Check(addr, env.UTrapframeSize, mem.PTE_U|mem.PTE_W); !ok {
		return fail("exception stack not mapped writable")
	}

	utf := &env.UTrapframe{
		FaultVA: f.VA,
		Err:     f.Err,
		Regs:    e.TF.Regs,
		EIP:     e.TF.EIP,
		EFLAGS:  e.TF.EFLAGS,
		ESP:     e.TF.ESP,
	}
	b, _ := utf.MarshalBinary()
	if err := e.AS.Write(addr, b); err != nil {
		return fail("exception stack write failed")
	}
	r.xstack = append(r.xstack, addr)
	k.metrics.RecordPageFault("upcall")
	k.log.Debug("page fault upcall",
		logging.Hex("env", uint32(e.ID)),
		logging.Hex("va", f.VA),
		logging.Hex("err", f.Err),
	)
	return h, utf, true
}
