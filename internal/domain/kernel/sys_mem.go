package kernel

import (
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
)

// sysPageAlloc maps a zeroed page at va in the target. Everything is
// validated before the page is taken.
func (k *Kernel) sysPageAlloc(r *runner, a [5]uint32) (int32, action, error) {
	va, perm := a[1], mem.PTE(a[2])
	if err := checkVA(va); err != nil {
		return 0, actReturn, err
	}
	if !mem.CheckUserPerm(perm) {
		return 0, actReturn, errno.ErrBadPerm
	}
	target, err := k.envs.Resolve(env.ID(a[0]), r.e, true)
	if err != nil {
		return 0, actReturn, err
	}
	pa, err := k.phys.Alloc(true)
	if err != nil {
		return 0, actReturn, err
	}
	if err := target.AS.Insert(pa, va, perm); err != nil {
		k.phys.Free(pa)
		return 0, actReturn, err
	}
	k.publishLocked()
	return 0, actReturn, nil
}

// sysPageMap maps the page at srcva in the source into the destination
// at dstva. Write access is granted only if the source has it.
func (k *Kernel) sysPageMap(r *runner, a [5]uint32) (int32, action, error) {
	srcva, dstva, perm := a[1], a[3], mem.PTE(a[4])
	src, err := k.envs.Resolve(env.ID(a[0]), r.e, true)
	if err != nil {
		return 0, actReturn, err
	}
	dst, err := k.envs.Resolve(env.ID(a[2]), r.e, true)
	if err != nil {
		return 0, actReturn, err
	}
	if err := checkVA(srcva); err != nil {
		return 0, actReturn, err
	}
	if err := checkVA(dstva); err != nil {
		return 0, actReturn, err
	}
	pa, pte, ok := src.AS.Lookup(srcva)
	if !ok {
		return 0, actReturn, errno.ErrNotMapped
	}
	if !mem.CheckUserPerm(perm) {
		return 0, actReturn, errno.ErrBadPerm
	}
	if perm&mem.PTE_W != 0 && pte&mem.PTE_W == 0 {
		return 0, actReturn, errno.ErrEscalation
	}
	if err := dst.AS.Insert(pa, dstva, perm); err != nil {
		return 0, actReturn, err
	}
	k.publishLocked()
	return 0, actReturn, nil
}

// sysPageUnmap removes the mapping at va, if any.
func (k *Kernel) sysPageUnmap(r *runner, a [5]uint32) (int32, action, error) {
	target, err := k.envs.Resolve(env.ID(a[0]), r.e, true)
	if err != nil {
		return 0, actReturn, err
	}
	if err := checkVA(a[1]); err != nil {
		return 0, actReturn, err
	}
	target.AS.Remove(a[1])
	k.publishLocked()
	return 0, actReturn, nil
}
