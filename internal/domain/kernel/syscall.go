package kernel

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
)

// Num is a system call number.
type Num uint32

const (
	SysCputs Num = iota
	SysCgetc
	SysGetenvid
	SysEnvDestroy
	SysPageAlloc
	SysPageMap
	SysPageUnmap
	SysExofork
	SysEnvSetStatus
	SysEnvSetTrapframe
	SysEnvSetPgfaultUpcall
	SysYield
	SysIPCTrySend
	SysIPCRecv
	SysTimeMsec
	SysTryTransmitPacket
	SysTryRecvPacket
	NSyscalls
)

var sysNames = [...]string{
	SysCputs:               "sys_cputs",
	SysCgetc:               "sys_cgetc",
	SysGetenvid:            "sys_getenvid",
	SysEnvDestroy:          "sys_env_destroy",
	SysPageAlloc:           "sys_page_alloc",
	SysPageMap:             "sys_page_map",
	SysPageUnmap:           "sys_page_unmap",
	SysExofork:             "sys_exofork",
	SysEnvSetStatus:        "sys_env_set_status",
	SysEnvSetTrapframe:     "sys_env_set_trapframe",
	SysEnvSetPgfaultUpcall: "sys_env_set_pgfault_upcall",
	SysYield:               "sys_yield",
	SysIPCTrySend:          "sys_ipc_try_send",
	SysIPCRecv:             "sys_ipc_recv",
	SysTimeMsec:            "sys_time_msec",
	SysTryTransmitPacket:   "sys_try_transmit_packet",
	SysTryRecvPacket:       "sys_try_recv_packet",
}

func (n Num) String() string {
	if n < NSyscalls {
		return sysNames[n]
	}
	return fmt.Sprintf("sys_%d", uint32(n))
}

// action tells the trapping goroutine what to do after the kernel returns.
type action int

const (
	actReturn  action = iota // return the result in EAX
	actPark                  // give up the CPU; the result is in EAX on resume
	actExit                  // the caller was destroyed
	actRestart               // the caller's trap frame was replaced
)

// fatal is a contract violation by the caller. It destroys the caller
// instead of being returned.
type fatal struct {
	va     uint32
	reason string
}

func (f *fatal) Error() string {
	return fmt.Sprintf("%s at va %08x", f.reason, f.va)
}

type sysFunc func(k *Kernel, r *runner, a [5]uint32) (int32, action, error)

var syscalls = [...]sysFunc{
	SysCputs:               (*Kernel).sysCputs,
	SysCgetc:               (*Kernel).sysCgetc,
	SysGetenvid:            (*Kernel).sysGetenvid,
	SysEnvDestroy:          (*Kernel).sysEnvDestroy,
	SysPageAlloc:           (*Kernel).sysPageAlloc,
	SysPageMap:             (*Kernel).sysPageMap,
	SysPageUnmap:           (*Kernel).sysPageUnmap,
	SysExofork:             (*Kernel).sysExofork,
	SysEnvSetStatus:        (*Kernel).sysEnvSetStatus,
	SysEnvSetTrapframe:     (*Kernel).sysEnvSetTrapframe,
	SysEnvSetPgfaultUpcall: (*Kernel).sysEnvSetPgfaultUpcall,
	SysYield:               (*Kernel).sysYield,
	SysIPCTrySend:          (*Kernel).sysIPCTrySend,
	SysIPCRecv:             (*Kernel).sysIPCRecv,
	SysTimeMsec:            (*Kernel).sysTimeMsec,
	SysTryTransmitPacket:   (*Kernel).sysTryTransmitPacket,
	SysTryRecvPacket:       (*Kernel).sysTryRecvPacket,
}

// syscall is the trap handler for system calls. Arguments are recorded in
// the caller's trap frame the way the trap entry pushes them.
func (k *Kernel) syscall(r *runner, num Num, a [5]uint32) (int32, action) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.checkOwnerLocked(r)
	e := r.e
	if e.Status == env.Dying {
		return 0, actExit
	}
	e.TF.Regs.EAX = uint32(num)
	e.TF.Regs.EDX = a[0]
	e.TF.Regs.ECX = a[1]
	e.TF.Regs.EBX = a[2]
	e.TF.Regs.EDI = a[3]
	e.TF.Regs.ESI = a[4]

	var (
		ret int32
		act = actReturn
		err error
	)
	if num < NSyscalls {
		ret, act, err = syscalls[num](k, r, a)
	} else {
		err = errno.ErrBadSyscall
	}

	var f *fatal
	switch {
	case errors.As(err, &f):
		k.log.Warn("user_mem_check assertion failure",
			logging.Hex("env", uint32(e.ID)),
			logging.Hex("va", f.va),
			logging.Syscall(num.String()),
			zap.String("reason", f.reason),
		)
		k.metrics.RecordSyscall(num.String(), "fatal")
		k.destroyLocked(e, "bad_pointer")
		return 0, actExit
	case err != nil:
		ret = errno.ResultOf(err)
		k.metrics.RecordSyscall(num.String(), errno.CodeOf(err).String())
	default:
		k.metrics.RecordSyscall(num.String(), "ok")
	}
	k.log.Debug("syscall",
		logging.Hex("env", uint32(e.ID)),
		logging.Syscall(num.String()),
		zap.Int32("result", ret),
	)

	if e.Status == env.Dying {
		return 0, actExit
	}
	if act != actRestart {
		e.TF.Regs.EAX = uint32(ret)
	}
	return ret, act
}

// userMemAssert checks that the caller may access [va, va+n) with perm.
func userMemAssert(e *env.Env, va, n uint32, perm mem.PTE) error {
	if bad, ok := e.AS.Check(va, n, perm|mem.PTE_U); !ok {
		return &fatal{va: bad, reason: "user memory check failed"}
	}
	return nil
}

// checkVA validates a page address named in a paging syscall.
func checkVA(va uint32) error {
	if va >= mem.UTOP || mem.PGOFF(va) != 0 {
		return errno.ErrBadAddr
	}
	return nil
}
