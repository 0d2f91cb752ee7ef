package ulib_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/ulib"
)

const dataPage = 0x2000

// chunkWriter counts the console writes it receives.
type chunkWriter struct {
	bytes.Buffer
	writes int
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}

func newKernel(t *testing.T) *kernel.Kernel {
	t.Helper()
	k, err := kernel.New(kernel.Config{NEnv: 16, NPages: 512, ReservedPages: 16}, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(k.Shutdown)
	return k
}

func create(t *testing.T, k *kernel.Kernel, name string, fn kernel.Entry) env.ID {
	t.Helper()
	id, err := k.Create(k.Image().Entry(name, fn), env.TypeUser)
	require.NoError(t, err)
	return id
}

func run(t *testing.T, k *kernel.Kernel) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, k.Run(ctx))
}

func pte(u *kernel.User, va uint32) mem.PTE {
	if !mem.PTE(u.Load32(mem.UVPDEntry(va))).Present() {
		return 0
	}
	return mem.PTE(u.Load32(mem.UVPTEntry(va)))
}

func TestForkCopiesOnWrite(t *testing.T) {
	k := newKernel(t)
	free := k.MemStats().Free

	var (
		forkErr, allocErr    error
		parentSaw, childSaw  byte
		childPTE, parentPTE  mem.PTE
		beforeWrite          mem.PTE
		childXStack, parentX mem.PhysAddr
		childWasChild        bool
	)
	childRef := k.Image().Entry("cow.child", func(u *kernel.User) {
		childWasChild = ulib.ForkReturn(u).Child
		parent := u.ThisEnv().ParentID
		beforeWrite = pte(u, dataPage)
		u.StoreByte(dataPage, 'A')
		childPTE = pte(u, dataPage)
		childXStack = pte(u, mem.UXSTACKTOP-mem.PGSIZE).Addr()
		ulib.IPCSend(u, parent, 1, ulib.NoPage, 0)
		ulib.IPCRecv(u, ulib.NoPage)
		childSaw = u.LoadByte(dataPage)
	})
	create(t, k, "cow.parent", func(u *kernel.User) {
		if allocErr = ulib.PageAlloc(u, 0, dataPage, ulib.PermRW); allocErr != nil {
			return
		}
		u.StoreByte(dataPage, 'O')
		res, err := ulib.Fork(u, childRef)
		if forkErr = err; err != nil {
			return
		}
		ulib.IPCRecv(u, ulib.NoPage)
		parentSaw = u.LoadByte(dataPage)
		u.StoreByte(dataPage, 'B')
		parentPTE = pte(u, dataPage)
		parentX = pte(u, mem.UXSTACKTOP-mem.PGSIZE).Addr()
		ulib.IPCSend(u, res.ID, 2, ulib.NoPage, 0)
	})
	run(t, k)

	require.NoError(t, allocErr)
	require.NoError(t, forkErr)
	assert.True(t, childWasChild)
	assert.Equal(t, byte('O'), parentSaw, "child write is private")
	assert.Equal(t, byte('A'), childSaw, "parent write is private")
	assert.Equal(t, ulib.PermCOW, beforeWrite.Flags())
	assert.Equal(t, ulib.PermRW, childPTE.Flags())
	assert.Equal(t, ulib.PermRW, parentPTE.Flags())
	assert.NotEqual(t, childXStack, parentX, "exception stacks are never shared")
	assert.Empty(t, k.Envs())
	assert.Equal(t, free, k.MemStats().Free)
}

func TestForkSharesReadOnlyPages(t *testing.T) {
	k := newKernel(t)

	var parentPA, childPA mem.PhysAddr
	var childPerm mem.PTE
	childRef := k.Image().Entry("ro.child", func(u *kernel.User) {
		e := pte(u, dataPage)
		childPA, childPerm = e.Addr(), e.Flags()
	})
	create(t, k, "ro.parent", func(u *kernel.User) {
		ulib.PageAlloc(u, 0, dataPage, ulib.PermRO)
		parentPA = pte(u, dataPage).Addr()
		ulib.Fork(u, childRef)
	})
	run(t, k)

	assert.Equal(t, parentPA, childPA)
	assert.Equal(t, ulib.PermRO, childPerm)
}

func TestNonCOWWriteFaultPanics(t *testing.T) {
	k := newKernel(t)

	var forkErr error
	var after bool
	child := k.Image().Entry("ro.child", func(u *kernel.User) {})
	create(t, k, "ro.write", func(u *kernel.User) {
		if _, forkErr = ulib.Fork(u, child); forkErr != nil {
			return
		}
		ulib.PageAlloc(u, 0, dataPage, ulib.PermRO)
		u.StoreByte(dataPage, 1)
		after = true
	})
	run(t, k)

	require.NoError(t, forkErr)
	assert.False(t, after)
	assert.Contains(t, string(k.Console().History()), "user panic")
	assert.Empty(t, k.Envs())
}

func TestSetPgfaultHandlerAllocatesExceptionStackOnce(t *testing.T) {
	k := newKernel(t)

	var first, second kernel.HandlerRef
	var kept uint32
	create(t, k, "xstack", func(u *kernel.User) {
		h := func(u *kernel.User, utf *env.UTrapframe) {}
		first, _ = ulib.SetPgfaultHandler(u, "noop", h)
		u.Store32(mem.UXSTACKTOP-4, 0xfeedface)
		second, _ = ulib.SetPgfaultHandler(u, "noop", h)
		kept = u.Load32(mem.UXSTACKTOP - 4)
	})
	run(t, k)

	assert.NotZero(t, first)
	assert.Equal(t, first, second)
	assert.Equal(t, uint32(0xfeedface), kept)
}

func TestIPCSendRetriesUntilReceiving(t *testing.T) {
	k := newKernel(t)

	var sendErr error
	var value uint32
	var from env.ID
	var perm mem.PTE
	var page byte

	var receiver env.ID
	sender := create(t, k, "sender", func(u *kernel.User) {
		ulib.PageAlloc(u, 0, dataPage, ulib.PermRW)
		u.StoreByte(dataPage, 'p')
		sendErr = ulib.IPCSend(u, receiver, 99, dataPage, ulib.PermRO)
	})
	receiver = create(t, k, "receiver", func(u *kernel.User) {
		value, from, perm, _ = ulib.IPCRecv(u, 0x10000)
		page = u.LoadByte(0x10000)
	})
	run(t, k)

	require.NoError(t, sendErr)
	assert.Equal(t, uint32(99), value)
	assert.Equal(t, sender, from)
	assert.Equal(t, ulib.PermRO, perm)
	assert.Equal(t, byte('p'), page)
}

func TestIPCFind(t *testing.T) {
	k := newKernel(t)

	ns, err := k.Create(k.Image().Entry("ns", func(u *kernel.User) {
		ulib.IPCRecv(u, ulib.NoPage)
	}), env.TypeNS)
	require.NoError(t, err)

	var found env.ID
	var ok bool
	create(t, k, "finder", func(u *kernel.User) {
		found, ok = ulib.IPCFind(u, env.TypeNS)
	})
	run(t, k)

	assert.True(t, ok)
	assert.Equal(t, ns, found)
}

func TestSpawnPassesArgs(t *testing.T) {
	k := newKernel(t)
	free := k.MemStats().Free

	var got []string
	var spawnErr error
	echo := k.Image().Entry("echo", func(u *kernel.User) {
		got = ulib.Args(u)
	})
	create(t, k, "spawner", func(u *kernel.User) {
		_, spawnErr = ulib.Spawn(u, echo, "echo", "hello", "")
	})
	run(t, k)

	require.NoError(t, spawnErr)
	assert.Equal(t, []string{"echo", "hello", ""}, got)
	assert.Equal(t, free, k.MemStats().Free)
}

func TestArgsWithoutStackIsNil(t *testing.T) {
	k := newKernel(t)

	got := []string{"unset"}
	create(t, k, "bare", func(u *kernel.User) { got = ulib.Args(u) })
	run(t, k)

	assert.Nil(t, got)
}

func TestPrintfSplitsLargeOutput(t *testing.T) {
	k := newKernel(t)
	out := &chunkWriter{}
	k.WithConsole(kernel.NewConsole(out))

	long := strings.Repeat("x", 2*mem.PGSIZE+10)
	create(t, k, "printer", func(u *kernel.User) {
		ulib.Printf(u, "%s|%d\n", long, 7)
	})
	run(t, k)

	assert.Equal(t, long+"|7\n", out.String())
	assert.Greater(t, out.writes, 1)
	assert.True(t, strings.HasSuffix(string(k.Console().History()), "x|7\n"))
}

func TestExitDoesNotReturn(t *testing.T) {
	k := newKernel(t)

	var after bool
	create(t, k, "exit", func(u *kernel.User) {
		ulib.Exit(u)
		after = true
	})
	run(t, k)

	assert.False(t, after)
	assert.Empty(t, k.Envs())
}
