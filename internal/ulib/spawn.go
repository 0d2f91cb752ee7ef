package ulib

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
)

// childStack is where the argument page built at UTEMP lands in the child.
const childStack = mem.USTACKTOP - mem.PGSIZE

// Spawn starts a child at entry with a fresh stack holding args. The
// child shares nothing with the caller.
func Spawn(u *kernel.User, entry kernel.EntryRef, args ...string) (env.ID, error) {
	child, err := Exofork(u, entry)
	if err != nil {
		return 0, fmt.Errorf("spawn: %w", err)
	}
	fail := func(err error) (env.ID, error) {
		EnvDestroy(u, child)
		return 0, fmt.Errorf("spawn: %w", err)
	}

	esp, err := initStack(u, child, args)
	if err != nil {
		return fail(err)
	}
	snap, ok := u.EnvInfo(child)
	if !ok {
		return fail(errno.ErrBadEnv)
	}
	tf := snap.TF
	tf.Regs = env.PushRegs{}
	tf.EIP = uint32(entry)
	tf.ESP = esp
	if err := EnvSetTrapframe(u, child, &tf); err != nil {
		return fail(err)
	}
	if err := EnvSetStatus(u, child, env.Runnable); err != nil {
		return fail(err)
	}
	return child, nil
}

// initStack lays out args at the top of a page built at UTEMP and moves
// the page to the child's stack. The returned stack pointer addresses
// argc, followed by a pointer to the nil-terminated argv array.
func initStack(u *kernel.User, child env.ID, args []string) (uint32, error) {
	size := uint32(0)
	for _, a := range args {
		size += uint32(len(a)) + 1
	}
	top := mem.UTEMP + mem.PGSIZE
	strs := top - size
	argv := mem.RoundDown(strs, 4) - 4*uint32(len(args)+1)
	if size > mem.PGSIZE || argv < mem.UTEMP+8 {
		return 0, errno.ErrNoMem
	}
	toChild := func(va uint32) uint32 { return va - mem.UTEMP + childStack }

	if err := PageAlloc(u, 0, mem.UTEMP, PermRW); err != nil {
		return 0, err
	}
	p := strs
	for i, a := range args {
		u.Store32(argv+4*uint32(i), toChild(p))
		u.Store(p, append([]byte(a), 0))
		p += uint32(len(a)) + 1
	}
	u.Store32(argv+4*uint32(len(args)), 0)
	u.Store32(argv-4, toChild(argv))
	u.Store32(argv-8, uint32(len(args)))

	if err := PageMap(u, 0, mem.UTEMP, child, childStack, PermRW); err != nil {
		PageUnmap(u, 0, mem.UTEMP)
		return 0, err
	}
	if err := PageUnmap(u, 0, mem.UTEMP); err != nil {
		return 0, err
	}
	return toChild(argv - 8), nil
}

// Args returns the arguments the caller was spawned with, or nil when it
// was started without an argument stack.
func Args(u *kernel.User) []string {
	esp := u.StartFrame().ESP
	if esp < childStack || esp+8 > mem.USTACKTOP {
		return nil
	}
	argc := u.Load32(esp)
	argv := u.Load32(esp + 4)
	if argc > mem.PGSIZE/4 {
		return nil
	}
	args := make([]string, 0, argc)
	for i := uint32(0); i < argc; i++ {
		args = append(args, loadString(u, u.Load32(argv+4*i)))
	}
	return args
}

func loadString(u *kernel.User, va uint32) string {
	var b []byte
	for c := u.LoadByte(va); c != 0; c = u.LoadByte(va) {
		b = append(b, c)
		va++
	}
	return string(b)
}
