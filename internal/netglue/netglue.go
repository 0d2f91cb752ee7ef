// Package netglue holds the user-space helpers that connect a network
// server environment to the NIC system calls: an input helper that polls
// for received frames and hands each to the server in its own page, an
// output helper that transmits the pages the server sends it, and a
// timer that pings the server at an interval.
//
// Every request page has the same layout: a little-endian int32 length at
// offset 0 followed by the frame bytes.
package netglue

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/ulib"
)

// Request values carried by IPC between the server and its helpers.
const (
	ReqInput  uint32 = 10
	ReqOutput uint32 = 11
	ReqTimer  uint32 = 12
)

// ReqVA is where request pages are built and received.
const ReqVA uint32 = 0x0ffff000

// MaxFrame is the largest frame a request page holds.
const MaxFrame = mem.PGSIZE - 4

// Entry point names.
const (
	InputEntry  = "netglue.input"
	OutputEntry = "netglue.output"
	TimerEntry  = "netglue.timer"
)

// Helpers are the environments started by Start.
type Helpers struct {
	Input  env.ID
	Output env.ID
	Timer  env.ID
}

// Start forks the input and output helpers of the calling server. When
// interval is nonzero a timer helper is spawned that sends ReqTimer every
// interval milliseconds.
func Start(u *kernel.User, interval uint32) (Helpers, error) {
	var h Helpers
	im := u.Image()
	in, err := ulib.Fork(u, im.Entry(InputEntry, inputMain))
	if err != nil {
		return h, fmt.Errorf("netglue: input: %w", err)
	}
	h.Input = in.ID
	out, err := ulib.Fork(u, im.Entry(OutputEntry, outputMain))
	if err != nil {
		return h, fmt.Errorf("netglue: output: %w", err)
	}
	h.Output = out.ID
	if interval != 0 {
		id, err := ulib.Spawn(u, im.Entry(TimerEntry, timerMain), "timer", strconv.FormatUint(uint64(interval), 10))
		if err != nil {
			return h, fmt.Errorf("netglue: timer: %w", err)
		}
		h.Timer = id
	}
	return h, nil
}

func inputMain(u *kernel.User)  { Input(u, u.ThisEnv().ParentID) }
func outputMain(u *kernel.User) { Output(u, u.ThisEnv().ParentID) }

func timerMain(u *kernel.User) {
	args := ulib.Args(u)
	if len(args) < 2 {
		ulib.Panicf(u, "timer: missing interval")
		return
	}
	ms, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil || ms == 0 {
		ulib.Panicf(u, "timer: bad interval %q", args[1])
		return
	}
	Timer(u, u.ThisEnv().ParentID, uint32(ms))
}

// Input receives frames forever, sending each to ns as ReqInput in a
// fresh page.
func Input(u *kernel.User, ns env.ID) {
	for {
		if err := ulib.PageAlloc(u, 0, ReqVA, ulib.PermRW); err != nil {
			ulib.Panicf(u, "input: page alloc: %v", err)
			return
		}
		for {
			n, err := ulib.TryRecvPacket(u, ReqVA+4, MaxFrame, ReqVA)
			if err == nil {
				u.Store32(ReqVA, uint32(n))
				break
			}
			if !errors.Is(err, errno.ErrQueueEmpty) {
				ulib.Panicf(u, "input: receive: %v", err)
				return
			}
			ulib.Yield(u)
		}
		if err := ulib.IPCSend(u, ns, ReqInput, ReqVA, ulib.PermRW); err != nil {
			ulib.Panicf(u, "input: send: %v", err)
			return
		}
		ulib.PageUnmap(u, 0, ReqVA)
	}
}

// Output transmits every ReqOutput page ns sends, retrying while the
// transmit ring is full. Requests from anyone else are ignored.
func Output(u *kernel.User, ns env.ID) {
	for {
		value, from, perm, err := ulib.IPCRecv(u, ReqVA)
		if err != nil {
			ulib.Panicf(u, "output: receive: %v", err)
			return
		}
		if value != ReqOutput || from != ns || perm&mem.PTE_P == 0 {
			continue
		}
		n := u.Load32(ReqVA)
		if n > MaxFrame {
			continue
		}
		for {
			err := ulib.TryTransmitPacket(u, ReqVA+4, n)
			if err == nil {
				break
			}
			if !errors.Is(err, errno.ErrQueueFull) {
				ulib.Panicf(u, "output: transmit: %v", err)
				return
			}
			ulib.Yield(u)
		}
	}
}

// Timer sends ReqTimer to ns every interval milliseconds, yielding while
// it waits.
func Timer(u *kernel.User, ns env.ID, interval uint32) {
	for {
		stop := ulib.TimeMsec(u) + interval
		for ulib.TimeMsec(u) < stop {
			ulib.Yield(u)
		}
		if err := ulib.IPCSend(u, ns, ReqTimer, ulib.NoPage, 0); err != nil {
			ulib.Panicf(u, "timer: send: %v", err)
			return
		}
	}
}

// Frame reads the frame held by the request page mapped at va.
func Frame(u *kernel.User, va uint32) []byte {
	n := u.Load32(va)
	if n > MaxFrame {
		n = MaxFrame
	}
	b := make([]byte, n)
	u.Load(va+4, b)
	return b
}

// PutFrame writes frame as a request page at va, which must be mapped
// writable.
func PutFrame(u *kernel.User, va uint32, frame []byte) error {
	if len(frame) > MaxFrame {
		return errno.ErrTooBig
	}
	u.Store32(va, uint32(len(frame)))
	u.Store(va+4, frame)
	return nil
}
