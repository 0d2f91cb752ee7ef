package programs_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/e1000"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/hardware/nic"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/programs"
)

func newKernel(t *testing.T) *kernel.Kernel {
	t.Helper()
	k, err := kernel.New(kernel.Config{NEnv: 64, NPages: 1024, ReservedPages: 16}, logging.NewNop())
	require.NoError(t, err)
	programs.Register(k.Image())
	t.Cleanup(k.Shutdown)
	return k
}

// boot launches the named programs and runs until none is runnable.
func boot(t *testing.T, k *kernel.Kernel, names ...string) string {
	t.Helper()
	for _, n := range names {
		_, err := programs.Launch(k, n)
		require.NoError(t, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, k.Run(ctx))
	return string(k.Console().History())
}

func TestCatalog(t *testing.T) {
	var names []string
	for _, p := range programs.All() {
		names = append(names, p.Name)
		assert.NotEmpty(t, p.Help, p.Name)
	}
	assert.True(t, sort.StringsAreSorted(names))
	assert.Contains(t, names, "netecho")

	_, ok := programs.Find("nope")
	assert.False(t, ok)

	k := newKernel(t)
	_, err := programs.Launch(k, "nope")
	assert.Error(t, err)
}

func TestRegisterMakesProgramsLookupable(t *testing.T) {
	k := newKernel(t)
	for _, p := range programs.All() {
		_, ok := k.Image().Lookup(p.Name)
		assert.True(t, ok, p.Name)
	}
}

func TestHello(t *testing.T) {
	k := newKernel(t)
	out := boot(t, k, "hello")
	assert.True(t, strings.HasPrefix(out, "hello, world\ni am environment "), out)
	assert.Empty(t, k.Envs())
}

func TestYieldInterleaves(t *testing.T) {
	k := newKernel(t)
	out := boot(t, k, "yield", "yield")

	assert.Equal(t, 2, strings.Count(out, "All done in environment"))
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 14)
	assert.True(t, strings.HasPrefix(lines[0], "Hello"))
	assert.True(t, strings.HasPrefix(lines[1], "Hello"), "second env runs before the first resumes")
}

func TestFaultalloc(t *testing.T) {
	k := newKernel(t)
	out := boot(t, k, "faultalloc")
	assert.Equal(t, "fault deadbeef\n"+
		"this string was faulted in at deadbeef\n"+
		"fault cafebffe\n"+
		"fault cafec000\n"+
		"this string was faulted in at cafebffe\n", out)
}

func TestForktree(t *testing.T) {
	k := newKernel(t)
	free := k.MemStats().Free
	out := boot(t, k, "forktree")

	var names []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		_, name, ok := strings.Cut(line, ": I am ")
		require.True(t, ok, line)
		names = append(names, strings.Trim(name, "'"))
	}
	sort.Strings(names)
	assert.Equal(t, []string{"", "0", "00", "000", "001", "01", "010", "011",
		"1", "10", "100", "101", "11", "110", "111"}, names)
	assert.Empty(t, k.Envs())
	assert.Equal(t, free, k.MemStats().Free)
}

func TestPingpong(t *testing.T) {
	k := newKernel(t)
	out := boot(t, k, "pingpong")

	for i := range 11 {
		assert.Contains(t, out, fmt.Sprintf(" got %d from ", i))
	}
	assert.NotContains(t, out, " got 11 from ")
	assert.Empty(t, k.Envs())
}

func TestPrimes(t *testing.T) {
	k := newKernel(t)
	out := boot(t, k, "primes")

	assert.Equal(t, "2 3 5 7 11 13 17 19 23 29 31 37 41 43 47 53 59 61 67 71 73 79 83 89 97 \n", out)
	assert.Empty(t, k.Envs())
}

func TestNetechoSwapsAddresses(t *testing.T) {
	k := newKernel(t)
	capture := nic.NewCapture()
	dev := nic.New(k.Phys(), nic.DefaultConfig(), capture, nil)
	drv, err := e1000.Attach(dev.PCIFunction(), k.Phys(), e1000.DefaultConfig(), nil)
	require.NoError(t, err)
	k.AttachNIC(drv)

	_, err = programs.Launch(k, "netecho")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return k.Run(gctx) })
	g.Go(func() error { return dev.Run(gctx) })

	in := append([]byte{1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2, 0x08, 0x00}, []byte("payload")...)
	dev.Deliver(in)
	got, err := capture.Wait(ctx, 1)
	cancel()
	require.NoError(t, err)
	g.Wait()

	want := append([]byte{2, 2, 2, 2, 2, 2, 1, 1, 1, 1, 1, 1, 0x08, 0x00}, []byte("payload")...)
	assert.Equal(t, want, got[0])
}
