package netglue_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/e1000"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/hardware/nic"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/netglue"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/ulib"
)

const serverPage = 0x00b00000

func newKernel(t *testing.T) *kernel.Kernel {
	t.Helper()
	k, err := kernel.New(kernel.Config{NEnv: 16, NPages: 1024, ReservedPages: 16}, logging.NewNop())
	require.NoError(t, err)
	return k
}

// echoServer forwards every input page straight back to the output helper.
func echoServer(u *kernel.User) {
	h, err := netglue.Start(u, 0)
	if err != nil {
		ulib.Panicf(u, "%v", err)
		return
	}
	for {
		value, from, _, err := ulib.IPCRecv(u, serverPage)
		if err != nil || value != netglue.ReqInput || from != h.Input {
			continue
		}
		ulib.IPCSend(u, h.Output, netglue.ReqOutput, serverPage, ulib.PermRW)
		ulib.PageUnmap(u, 0, serverPage)
	}
}

func TestEchoThroughHelpers(t *testing.T) {
	k := newKernel(t)
	capture := nic.NewCapture()
	dev := nic.New(k.Phys(), nic.DefaultConfig(), capture, nil)
	drv, err := e1000.Attach(dev.PCIFunction(), k.Phys(), e1000.DefaultConfig(), nil)
	require.NoError(t, err)
	k.AttachNIC(drv)

	_, err = k.Create(k.Image().Entry("echo", echoServer), env.TypeNS)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return k.Run(gctx) })
	g.Go(func() error { return dev.Run(gctx) })

	var want [][]byte
	for i := range 5 {
		f := []byte(fmt.Sprintf("frame %d", i))
		want = append(want, f)
		dev.Deliver(f)
	}
	got, err := capture.Wait(ctx, len(want))
	cancel()
	require.NoError(t, err)
	assert.Equal(t, want, got[:len(want)])

	err = g.Wait()
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestTimerPingsServer(t *testing.T) {
	k := newKernel(t)
	var ms atomic.Int64
	base := time.Unix(0, 0)
	k.WithClock(func() time.Time {
		return base.Add(time.Duration(ms.Add(1)) * time.Millisecond)
	})

	var ticks int
	var timer env.ID
	var startErr error
	_, err := k.Create(k.Image().Entry("ticker", func(u *kernel.User) {
		h, err := netglue.Start(u, 20)
		if startErr = err; err != nil {
			return
		}
		timer = h.Timer
		for ticks < 3 {
			value, from, _, err := ulib.IPCRecv(u, ulib.NoPage)
			if err == nil && value == netglue.ReqTimer && from == h.Timer {
				ticks++
			}
		}
	}), env.TypeNS)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, k.Run(ctx))
	k.Shutdown()

	require.NoError(t, startErr)
	assert.NotZero(t, timer)
	assert.Equal(t, 3, ticks)
	assert.Empty(t, k.Envs())
}

func TestFramePageLayout(t *testing.T) {
	k := newKernel(t)

	var got []byte
	var tooBig error
	_, err := k.Create(k.Image().Entry("layout", func(u *kernel.User) {
		ulib.PageAlloc(u, 0, netglue.ReqVA, ulib.PermRW)
		netglue.PutFrame(u, netglue.ReqVA, []byte("abc"))
		got = netglue.Frame(u, netglue.ReqVA)
		tooBig = netglue.PutFrame(u, netglue.ReqVA, make([]byte, netglue.MaxFrame+1))
	}), env.TypeUser)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, k.Run(ctx))

	assert.Equal(t, []byte("abc"), got)
	assert.Error(t, tooBig)
}
