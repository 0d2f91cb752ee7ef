package kernel

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
)

// An environment's user code runs on its own goroutine. Exactly one
// goroutine holds the CPU at a time: the scheduler hands it to an
// environment with a wake message and gets it back with an event.

type wake int

const (
	wakeRun wake = iota
	wakeKill
)

type outcome int

const (
	outYield   outcome = iota // parked, waiting for wakeRun
	outExit                   // execution ended; env is dying
	outRestart                // execution ended; env restarts from its trap frame
)

type event struct {
	r   *runner
	out outcome
}

// unwind values are panicked through user code to abandon an execution.
type unwind int

const (
	unwindExit unwind = iota
	unwindRestart
	unwindKilled
)

// runner is one execution of an environment, from its trap frame EIP to
// exit, destruction or restart.
type runner struct {
	e     *env.Env
	id    env.ID
	wake  chan wake
	start env.TrapFrame
	user  *User

	// xstack holds the exception stack records of the fault handlers
	// currently running, innermost last.
	xstack []uint32

	// holding is true while this goroutine has the CPU. Only the
	// execution's own goroutine touches it.
	holding bool
}

func (r *runner) kill() {
	select {
	case r.wake <- wakeKill:
	default:
	}
}

// Run schedules environments until none is runnable, which returns nil,
// or ctx is cancelled.
func (k *Kernel) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		k.mu.Lock()
		r, fresh, ok := k.scheduleLocked()
		k.mu.Unlock()
		if !ok {
			k.log.Debug("No runnable environments")
			return nil
		}
		k.metrics.IncContextSwitches()
		if fresh {
			go k.execute(r)
		} else {
			r.wake <- wakeRun
		}

		var ev event
		select {
		case ev = <-k.events:
		case <-ctx.Done():
			return ctx.Err()
		}

		k.mu.Lock()
		k.settleLocked(ev)
		k.mu.Unlock()
	}
}

// scheduleLocked picks the next runnable environment and makes it current.
func (k *Kernel) scheduleLocked() (*runner, bool, bool) {
	i, ok := k.sched.Pick(k.envs.Len(), func(i int) bool {
		return k.envs.At(i).Status == env.Runnable
	})
	if !ok {
		return nil, false, false
	}
	e := k.envs.At(i)
	e.Runs++
	k.curenv = e
	r := k.runners[i]
	if r != nil && r.id == e.ID {
		return r, false, true
	}
	r = &runner{
		e:     e,
		id:    e.ID,
		wake:  make(chan wake, 1),
		start: e.TF,
	}
	r.user = &User{k: k, r: r}
	k.runners[i] = r
	return r, true, true
}

// settleLocked handles the outcome of a time slice.
func (k *Kernel) settleLocked(ev event) {
	r := ev.r
	k.curenv = nil
	switch ev.out {
	case outExit:
		if k.runners[r.e.Index()] == r {
			k.runners[r.e.Index()] = nil
		}
		if r.e.ID == r.id && r.e.Status == env.Dying {
			k.freeLocked(r.e, false)
		}
	case outRestart:
		if k.runners[r.e.Index()] == r {
			k.runners[r.e.Index()] = nil
		}
	}
	k.publishLocked()
}

// execute is the goroutine body of one execution.
func (k *Kernel) execute(r *runner) {
	r.holding = true
	out := outExit
	defer func() {
		if rec := recover(); rec != nil {
			sig, ok := rec.(unwind)
			if !ok {
				k.userCrashed(r, rec)
			} else if sig == unwindRestart {
				out = outRestart
			}
		}
		// A goroutine killed while parked has nobody waiting for it.
		if r.holding {
			k.events <- event{r: r, out: out}
		}
	}()

	k.mu.Lock()
	fn, ok := k.image.entry(r.start.EIP)
	if !ok {
		k.log.Warn("invalid entry point",
			logging.Hex("env", uint32(r.id)),
			logging.Hex("eip", r.start.EIP),
		)
		k.destroyLocked(r.e, "bad_entry")
		k.mu.Unlock()
		return
	}
	k.mu.Unlock()

	fn(r.user)

	k.mu.Lock()
	if k.ownsLocked(r) {
		k.log.Info("exiting gracefully", logging.Hex("env", uint32(r.id)))
		k.destroyLocked(r.e, "exit")
	}
	k.mu.Unlock()
}

// userCrashed converts a Go panic in user code into destruction of the
// environment.
func (k *Kernel) userCrashed(r *runner, rec any) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.log.Warn("user program crashed",
		logging.Hex("env", uint32(r.id)),
		zap.String("panic", fmt.Sprint(rec)),
	)
	if k.ownsLocked(r) {
		k.destroyLocked(r.e, "crash")
	}
}

// ownsLocked reports whether r is still the current execution of a live
// environment.
func (k *Kernel) ownsLocked(r *runner) bool {
	e := r.e
	return e.ID == r.id && e.Status != env.Free && k.runners[e.Index()] == r
}

// park gives the CPU back to the scheduler and waits to be resumed.
func (k *Kernel) park(r *runner) {
	r.holding = false
	k.events <- event{r: r, out: outYield}
	if w := <-r.wake; w == wakeKill {
		panic(unwindKilled)
	}
	r.holding = true
}
