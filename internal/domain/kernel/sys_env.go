package kernel

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
)

func (k *Kernel) sysGetenvid(r *runner, _ [5]uint32) (int32, action, error) {
	return int32(r.e.ID), actReturn, nil
}

// sysEnvDestroy destroys the caller or one of its children.
func (k *Kernel) sysEnvDestroy(r *runner, a [5]uint32) (int32, action, error) {
	target, err := k.envs.Resolve(env.ID(a[0]), r.e, true)
	if err != nil {
		return 0, actReturn, err
	}
	if target == r.e {
		k.log.Info("exiting gracefully", logging.Hex("env", uint32(r.e.ID)))
	} else {
		k.log.Info("destroying env",
			logging.Hex("env", uint32(r.e.ID)),
			logging.Hex("target", uint32(target.ID)),
		)
	}
	k.destroyLocked(target, "destroyed")
	return 0, actReturn, nil
}

// sysExofork creates a child that is a register copy of the caller. The
// child starts at the resume entry and sees 0 in EAX; the caller gets the
// child's id.
func (k *Kernel) sysExofork(r *runner, a [5]uint32) (int32, action, error) {
	child, err := k.allocLocked(r.e.ID)
	if err != nil {
		return 0, actReturn, err
	}
	child.Type = r.e.Type
	child.Status = env.NotRunnable
	child.TF = r.e.TF
	child.TF.Regs.EAX = 0
	child.TF.EIP = a[0]
	k.publishLocked()
	return int32(child.ID), actReturn, nil
}

// sysEnvSetStatus sets a target to runnable or not runnable.
func (k *Kernel) sysEnvSetStatus(r *runner, a [5]uint32) (int32, action, error) {
	status := env.Status(a[1])
	if status != env.Runnable && status != env.NotRunnable {
		return 0, actReturn, errno.ErrBadStatus
	}
	target, err := k.envs.Resolve(env.ID(a[0]), r.e, true)
	if err != nil {
		return 0, actReturn, err
	}
	target.Status = status
	k.publishLocked()
	return 0, actReturn, nil
}

// sysEnvSetTrapframe replaces a target's registers with a sanitized copy
// of the frame at a[1]. A target that has already started is restarted
// from the new frame.
func (k *Kernel) sysEnvSetTrapframe(r *runner, a [5]uint32) (int32, action, error) {
	target, err := k.envs.Resolve(env.ID(a[0]), r.e, true)
	if err != nil {
		return 0, actReturn, err
	}
	if err := userMemAssert(r.e, a[1], env.TrapFrameSize, 0); err != nil {
		return 0, actReturn, err
	}
	buf := make([]byte, env.TrapFrameSize)
	if err := r.e.AS.Read(a[1], buf); err != nil {
		return 0, actReturn, &fatal{va: a[1], reason: "trap frame unreadable"}
	}
	var tf env.TrapFrame
	if err := tf.UnmarshalBinary(buf); err != nil {
		return 0, actReturn, err
	}
	tf.Sanitize()
	target.TF = tf

	if target == r.e {
		return 0, actRestart, nil
	}
	idx := target.Index()
	if tr := k.runners[idx]; tr != nil && tr.id == target.ID {
		tr.kill()
		k.runners[idx] = nil
	}
	return 0, actReturn, nil
}

// sysEnvSetPgfaultUpcall records the handler capability run on user page
// faults. It is validated when a fault is delivered.
func (k *Kernel) sysEnvSetPgfaultUpcall(r *runner, a [5]uint32) (int32, action, error) {
	target, err := k.envs.Resolve(env.ID(a[0]), r.e, true)
	if err != nil {
		return 0, actReturn, err
	}
	target.PgfaultUpcall = a[1]
	k.log.Debug("pgfault upcall set",
		logging.Hex("env", uint32(target.ID)),
		zap.String("handler", k.image.Describe(a[1])),
	)
	return 0, actReturn, nil
}

func (k *Kernel) sysYield(_ *runner, _ [5]uint32) (int32, action, error) {
	return 0, actPark, nil
}
