package kernel

import (
	"encoding/binary"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
)

// User is the view user code has of the machine: the trap instruction,
// memory through the MMU, and the read-only environment array.
type User struct {
	k *Kernel
	r *runner
}

// Syscall traps into the kernel. Arguments travel in EDX, ECX, EBX, EDI
// and ESI; the result comes back in EAX.
func (u *User) Syscall(num Num, a1, a2, a3, a4, a5 uint32) int32 {
	ret, act := u.k.syscall(u.r, num, [5]uint32{a1, a2, a3, a4, a5})
	switch act {
	case actPark:
		u.k.park(u.r)
		return u.k.resumeValue(u.r)
	case actExit:
		panic(unwindExit)
	case actRestart:
		panic(unwindRestart)
	}
	return ret
}

// Image is the program image this code was loaded from.
func (u *User) Image() *Image { return u.k.image }

// StartFrame is the register state this execution started with.
func (u *User) StartFrame() env.TrapFrame { return u.r.start }

// ThisEnv reads the caller's own slot of the environment array.
func (u *User) ThisEnv() env.Snapshot {
	u.k.mu.Lock()
	defer u.k.mu.Unlock()
	u.k.checkOwnerLocked(u.r)
	return u.r.e.Snapshot()
}

// EnvInfo reads the environment array slot that id maps to. ok is false
// when the slot holds a different or no environment.
func (u *User) EnvInfo(id env.ID) (env.Snapshot, bool) {
	u.k.mu.Lock()
	defer u.k.mu.Unlock()
	u.k.checkOwnerLocked(u.r)
	e := u.k.envs.At(u.k.envs.IndexOf(id))
	if e.Status == env.Free || e.ID != id {
		return env.Snapshot{}, false
	}
	return e.Snapshot(), true
}

// Envs reads every live slot of the environment array.
func (u *User) Envs() []env.Snapshot {
	u.k.mu.Lock()
	defer u.k.mu.Unlock()
	u.k.checkOwnerLocked(u.r)
	var out []env.Snapshot
	u.k.envs.Each(func(e *env.Env) { out = append(out, e.Snapshot()) })
	return out
}

// Load reads user memory. Faults are delivered to the upcall and the
// access retried; an unrecoverable fault destroys the environment.
func (u *User) Load(va uint32, dst []byte) {
	for len(dst) > 0 {
		n := min(len(dst), int(mem.PGSIZE-mem.PGOFF(va)))
		chunk := dst[:n]
		u.k.touch(u.r, va, false, func(pa mem.PhysAddr) { u.k.phys.Read(pa, chunk) })
		dst = dst[n:]
		va += uint32(n)
	}
}

// Store writes user memory.
func (u *User) Store(va uint32, src []byte) {
	for len(src) > 0 {
		n := min(len(src), int(mem.PGSIZE-mem.PGOFF(va)))
		chunk := src[:n]
		u.k.touch(u.r, va, true, func(pa mem.PhysAddr) { u.k.phys.Write(pa, chunk) })
		src = src[n:]
		va += uint32(n)
	}
}

// Load32 reads a little-endian word.
func (u *User) Load32(va uint32) uint32 {
	var b [4]byte
	u.Load(va, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// Store32 writes a little-endian word.
func (u *User) Store32(va, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	u.Store(va, b[:])
}

// LoadByte reads one byte.
func (u *User) LoadByte(va uint32) byte {
	var b [1]byte
	u.Load(va, b[:])
	return b[0]
}

// StoreByte writes one byte.
func (u *User) StoreByte(va uint32, v byte) {
	u.Store(va, []byte{v})
}

// checkOwnerLocked abandons an execution whose environment was destroyed
// or restarted underneath it.
func (k *Kernel) checkOwnerLocked(r *runner) {
	if !k.ownsLocked(r) {
		panic(unwindKilled)
	}
}

func (k *Kernel) resumeValue(r *runner) int32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.checkOwnerLocked(r)
	return int32(r.e.TF.Regs.EAX)
}
