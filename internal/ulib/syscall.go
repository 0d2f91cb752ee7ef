// Package ulib is the library user programs link against: typed wrappers
// for every system call, console printing, the copy-on-write fork, IPC
// helpers and spawn. Everything here runs as user code, on the calling
// environment's goroutine, and reaches the kernel only through
// kernel.User.
package ulib

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
)

// Common permission sets.
const (
	PermRO  = mem.PTE_P | mem.PTE_U
	PermRW  = mem.PTE_P | mem.PTE_U | mem.PTE_W
	PermCOW = mem.PTE_P | mem.PTE_U | mem.PTE_COW
)

// NoPage is passed as a page address to IPC calls that carry no page.
const NoPage = mem.UTOP

// scratch is the lowest word of the normal stack page, used to pass
// buffers to the kernel.
const scratch = mem.USTACKTOP - mem.PGSIZE

func call(u *kernel.User, num kernel.Num, a1, a2, a3, a4, a5 uint32) (int32, error) {
	r := u.Syscall(num, a1, a2, a3, a4, a5)
	return r, errno.FromResult(r)
}

// Cputs prints s on the console.
func Cputs(u *kernel.User, s string) {
	b := []byte(s)
	for len(b) > 0 {
		n := min(len(b), mem.PGSIZE)
		u.Store(scratch, b[:n])
		u.Syscall(kernel.SysCputs, scratch, uint32(n), 0, 0, 0)
		b = b[n:]
	}
}

// Printf formats to the console.
func Printf(u *kernel.User, format string, args ...any) {
	Cputs(u, fmt.Sprintf(format, args...))
}

// Cgetc returns the next console byte, or 0 if none is waiting.
func Cgetc(u *kernel.User) byte {
	return byte(u.Syscall(kernel.SysCgetc, 0, 0, 0, 0, 0))
}

// Getenvid returns the caller's id.
func Getenvid(u *kernel.User) env.ID {
	return env.ID(u.Syscall(kernel.SysGetenvid, 0, 0, 0, 0, 0))
}

// EnvDestroy destroys id; destroying the caller does not return.
func EnvDestroy(u *kernel.User, id env.ID) error {
	_, err := call(u, kernel.SysEnvDestroy, uint32(id), 0, 0, 0, 0)
	return err
}

// PageAlloc maps a zeroed page at va in id.
func PageAlloc(u *kernel.User, id env.ID, va uint32, perm mem.PTE) error {
	_, err := call(u, kernel.SysPageAlloc, uint32(id), va, uint32(perm), 0, 0)
	return err
}

// PageMap maps the page at srcva in src at dstva in dst.
func PageMap(u *kernel.User, src env.ID, srcva uint32, dst env.ID, dstva uint32, perm mem.PTE) error {
	_, err := call(u, kernel.SysPageMap, uint32(src), srcva, uint32(dst), dstva, uint32(perm))
	return err
}

// PageUnmap removes the mapping at va in id.
func PageUnmap(u *kernel.User, id env.ID, va uint32) error {
	_, err := call(u, kernel.SysPageUnmap, uint32(id), va, 0, 0, 0)
	return err
}

// Exofork creates a blank, not yet runnable child that will start at
// resume with the caller's registers.
func Exofork(u *kernel.User, resume kernel.EntryRef) (env.ID, error) {
	r, err := call(u, kernel.SysExofork, uint32(resume), 0, 0, 0, 0)
	return env.ID(r), err
}

// EnvSetStatus sets id runnable or not runnable.
func EnvSetStatus(u *kernel.User, id env.ID, status env.Status) error {
	_, err := call(u, kernel.SysEnvSetStatus, uint32(id), uint32(status), 0, 0, 0)
	return err
}

// EnvSetTrapframe replaces the registers of id. Applied to the caller it
// does not return.
func EnvSetTrapframe(u *kernel.User, id env.ID, tf *env.TrapFrame) error {
	b, err := tf.MarshalBinary()
	if err != nil {
		return err
	}
	u.Store(scratch, b)
	_, err = call(u, kernel.SysEnvSetTrapframe, uint32(id), scratch, 0, 0, 0)
	return err
}

// EnvSetPgfaultUpcall sets the fault handler of id.
func EnvSetPgfaultUpcall(u *kernel.User, id env.ID, h kernel.HandlerRef) error {
	_, err := call(u, kernel.SysEnvSetPgfaultUpcall, uint32(id), uint32(h), 0, 0, 0)
	return err
}

// Yield gives up the CPU.
func Yield(u *kernel.User) {
	u.Syscall(kernel.SysYield, 0, 0, 0, 0, 0)
}

// IPCTrySend makes one attempt to send to a receiving environment.
func IPCTrySend(u *kernel.User, to env.ID, value, srcva uint32, perm mem.PTE) error {
	_, err := call(u, kernel.SysIPCTrySend, uint32(to), value, srcva, uint32(perm), 0)
	return err
}

func ipcRecv(u *kernel.User, dstva uint32) error {
	_, err := call(u, kernel.SysIPCRecv, dstva, 0, 0, 0, 0)
	return err
}

// TimeMsec returns milliseconds since boot.
func TimeMsec(u *kernel.User) uint32 {
	return uint32(u.Syscall(kernel.SysTimeMsec, 0, 0, 0, 0, 0))
}

// TryTransmitPacket hands n bytes at va to the NIC.
func TryTransmitPacket(u *kernel.User, va, n uint32) error {
	_, err := call(u, kernel.SysTryTransmitPacket, va, n, 0, 0, 0)
	return err
}

// TryRecvPacket receives into [va, va+n) and stores the frame length at
// lenp. The length is also stored when the buffer is too small.
func TryRecvPacket(u *kernel.User, va, n, lenp uint32) (int, error) {
	r, err := call(u, kernel.SysTryRecvPacket, va, n, lenp, 0, 0)
	if err != nil {
		return 0, err
	}
	return int(r), nil
}

// Exit destroys the caller.
func Exit(u *kernel.User) {
	EnvDestroy(u, 0)
}

// Panicf prints a panic message and destroys the caller.
func Panicf(u *kernel.User, format string, args ...any) {
	Printf(u, "[%s] user panic: %s\n", Getenvid(u), fmt.Sprintf(format, args...))
	Exit(u)
}
