package ulib

import (
	"errors"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
)

// IPCSend sends value, and the page at pg when pg is below UTOP, to env
// to. It yields and retries until the target is receiving.
func IPCSend(u *kernel.User, to env.ID, value, pg uint32, perm mem.PTE) error {
	for {
		err := IPCTrySend(u, to, value, pg, perm)
		if !errors.Is(err, errno.ErrIPCNotRecv) {
			return err
		}
		Yield(u)
	}
}

// IPCRecv blocks until a message arrives. A page is accepted at pg when pg
// is below UTOP; perm is nonzero only if one was transferred.
func IPCRecv(u *kernel.User, pg uint32) (value uint32, from env.ID, perm mem.PTE, err error) {
	if err := ipcRecv(u, pg); err != nil {
		return 0, 0, 0, err
	}
	mb := u.ThisEnv().IPC
	return mb.Value, mb.From, mb.Perm, nil
}

// IPCFind returns the first environment of type t.
func IPCFind(u *kernel.User, t env.Type) (env.ID, bool) {
	for _, s := range u.Envs() {
		if s.Type == t && s.Status != env.Free {
			return s.ID, true
		}
	}
	return 0, false
}
