package kernel

import (
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
)

// sysIPCTrySend delivers a value, and optionally the page at srcva, to a
// receiving environment. Any environment may send to any other. The
// receiver's mailbox, EAX and run state change together once every check
// has passed.
func (k *Kernel) sysIPCTrySend(r *runner, a [5]uint32) (int32, action, error) {
	value, srcva, perm := a[1], a[2], mem.PTE(a[3])
	target, err := k.envs.Resolve(env.ID(a[0]), r.e, false)
	if err != nil {
		k.metrics.RecordIPCSend("bad_env")
		return 0, actReturn, err
	}
	if !target.IPC.Recving {
		k.metrics.RecordIPCSend("not_recving")
		return 0, actReturn, errno.ErrIPCNotRecv
	}

	var (
		pa   mem.PhysAddr
		send bool
	)
	if srcva < mem.UTOP {
		if mem.PGOFF(srcva) != 0 {
			return 0, actReturn, errno.ErrBadAddr
		}
		if !mem.CheckUserPerm(perm) {
			return 0, actReturn, errno.ErrBadPerm
		}
		var pte mem.PTE
		var ok bool
		pa, pte, ok = r.e.AS.Lookup(srcva)
		if !ok {
			return 0, actReturn, errno.ErrNotMapped
		}
		if perm&mem.PTE_W != 0 && pte&mem.PTE_W == 0 {
			return 0, actReturn, errno.ErrEscalation
		}
		send = true
	}

	moved := mem.PTE(0)
	if send && target.IPC.WantPage {
		if err := target.AS.Insert(pa, target.IPC.DstVA, perm); err != nil {
			return 0, actReturn, err
		}
		moved = perm
	}

	target.IPC = env.Mailbox{
		From:  r.e.ID,
		Value: value,
		Perm:  moved,
	}
	target.TF.Regs.EAX = 0
	target.Status = env.Runnable
	k.metrics.RecordIPCSend("delivered")
	k.log.Debug("ipc delivered",
		logging.Hex("env", uint32(r.e.ID)),
		logging.Hex("target", uint32(target.ID)),
		logging.Hex("value", value),
	)
	k.publishLocked()
	return 0, actReturn, nil
}

// sysIPCRecv blocks the caller until a send targets it. A dstva below
// UTOP asks for a page to be mapped there.
func (k *Kernel) sysIPCRecv(r *runner, a [5]uint32) (int32, action, error) {
	dstva := a[0]
	want := dstva < mem.UTOP
	if want && mem.PGOFF(dstva) != 0 {
		return 0, actReturn, errno.ErrBadAddr
	}
	mb := env.Mailbox{Recving: true, WantPage: want}
	if want {
		mb.DstVA = dstva
	}
	r.e.IPC = mb
	r.e.Status = env.NotRunnable
	k.publishLocked()
	return 0, actPark, nil
}
