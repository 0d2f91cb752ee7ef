package e1000_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/e1000"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/pci"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/hardware/nic"
)

type mockMMIO struct {
	mock.Mock
}

func (m *mockMMIO) Read32(off uint32) uint32 {
	return m.Called(off).Get(0).(uint32)
}

func (m *mockMMIO) Write32(off, v uint32) {
	m.Called(off, v)
}

type rig struct {
	phys    *mem.Phys
	dev     *nic.Device
	capture *nic.Capture
	drv     *e1000.Driver
}

func newRig(t *testing.T) *rig {
	t.Helper()
	phys, err := mem.NewPhys(256, 8)
	require.NoError(t, err)
	capture := nic.NewCapture()
	dev := nic.New(phys, nic.DefaultConfig(), capture, nil)
	drv, err := e1000.Attach(dev.PCIFunction(), phys, e1000.DefaultConfig(), nil)
	require.NoError(t, err)
	return &rig{phys: phys, dev: dev, capture: capture, drv: drv}
}

func frame(tag byte, n int) []byte {
	return bytes.Repeat([]byte{tag}, n)
}

func TestAttachProgramsDevice(t *testing.T) {
	r := newRig(t)
	assert.Equal(t, uint32(64*e1000.DescSize), r.dev.Read32(e1000.TDLEN))
	assert.Equal(t, uint32(128*e1000.DescSize), r.dev.Read32(e1000.RDLEN))
	assert.Equal(t, uint32(0), r.dev.Read32(e1000.TDT))
	assert.Equal(t, uint32(127), r.dev.Read32(e1000.RDT))
	assert.Equal(t, uint32(0x0004010a), r.dev.Read32(e1000.TCTL))
	assert.Equal(t, uint32(10|4<<10|6<<20), r.dev.Read32(e1000.TIPG))
	assert.Equal(t, uint32(e1000.RCTL_EN|e1000.RCTL_BAM|e1000.RCTL_SECRC), r.dev.Read32(e1000.RCTL))
	assert.Equal(t, uint32(0x12005452), r.dev.Read32(e1000.RAL0))
	assert.Equal(t, uint32(0x80005634), r.dev.Read32(e1000.RAH0))

	s := r.drv.Stats()
	assert.Equal(t, 64, s.TxFree, "transmit slots start software-owned")
	assert.Equal(t, 0, s.RxReady, "receive slots start hardware-owned")
	assert.Equal(t, "52:54:00:12:34:56", s.MAC)
}

func TestAttachRejectsLinkDown(t *testing.T) {
	phys, err := mem.NewPhys(64, 8)
	require.NoError(t, err)
	regs := new(mockMMIO)
	regs.On("Read32", uint32(e1000.STATUS)).Return(uint32(0x80080000)).Once()

	f := &pci.Func{Vendor: e1000.VendorID, Device: e1000.DeviceID}
	f.BARs[0] = pci.BAR{Base: 0xfebc0000, Size: e1000.RegSize, Regs: regs}

	drv, err := e1000.Attach(f, phys, e1000.DefaultConfig(), nil)
	assert.Nil(t, drv)
	assert.ErrorIs(t, err, errno.ErrAttach)
	assert.True(t, f.Enabled())
	regs.AssertExpectations(t)
	regs.AssertNotCalled(t, "Write32", mock.Anything, mock.Anything)
}

func TestAttachRejectsMissingBAR(t *testing.T) {
	phys, err := mem.NewPhys(64, 8)
	require.NoError(t, err)
	_, err = e1000.Attach(&pci.Func{}, phys, e1000.DefaultConfig(), nil)
	assert.ErrorIs(t, err, errno.ErrAttach)
}

func TestAttachOutOfMemory(t *testing.T) {
	phys, err := mem.NewPhys(8, 4)
	require.NoError(t, err)
	dev := nic.New(phys, nic.DefaultConfig(), nil, nil)
	_, err = e1000.Attach(dev.PCIFunction(), phys, e1000.DefaultConfig(), nil)
	assert.ErrorIs(t, err, errno.ErrAttach)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *e1000.Config)
		wantErr bool
	}{
		{"default", func(c *e1000.Config) {}, false},
		{"ring not multiple of 128 bytes", func(c *e1000.Config) { c.TxDescriptors = 12 }, true},
		{"ring larger than a page", func(c *e1000.Config) { c.RxDescriptors = 512 }, true},
		{"odd buffer size", func(c *e1000.Config) { c.BufferSize = 1500 }, true},
		{"short mac", func(c *e1000.Config) { c.MAC = c.MAC[:4] }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e1000.DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransmitPreservesOrder(t *testing.T) {
	r := newRig(t)
	p1, p2, p3 := []byte("first"), []byte("second"), []byte("third")
	require.NoError(t, r.drv.Transmit(p1))
	require.NoError(t, r.drv.Transmit(p2))
	require.NoError(t, r.drv.Transmit(p3))
	r.dev.Step()
	assert.Equal(t, [][]byte{p1, p2, p3}, r.capture.Frames())
	assert.Equal(t, uint32(3), r.drv.Stats().TxPackets)
}

func TestTransmitQueueFullLeavesSlotsIntact(t *testing.T) {
	r := newRig(t)
	for i := 0; i < 64; i++ {
		require.NoError(t, r.drv.Transmit(frame(byte(i), 60)))
	}
	err := r.drv.Transmit(frame(0xff, 60))
	assert.ErrorIs(t, err, errno.ErrQueueFull)
	assert.True(t, errno.IsSteadyState(err))
	assert.Equal(t, 0, r.drv.Stats().TxFree)

	r.dev.Step()
	got := r.capture.Frames()
	require.Len(t, got, 64)
	for i, f := range got {
		assert.Equal(t, frame(byte(i), 60), f)
	}
	assert.Equal(t, 64, r.drv.Stats().TxFree)
	assert.NoError(t, r.drv.Transmit(frame(0xff, 60)))
}

func TestTransmitTooBig(t *testing.T) {
	r := newRig(t)
	err := r.drv.Transmit(make([]byte, 2049))
	assert.ErrorIs(t, err, errno.ErrTooBig)
	assert.ErrorIs(t, err, errno.ErrInval)
	assert.NoError(t, r.drv.Transmit(make([]byte, 2048)))
}

func TestReceiveEmpty(t *testing.T) {
	r := newRig(t)
	n, err := r.drv.Receive(make([]byte, 2048))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, errno.ErrQueueEmpty)
	assert.True(t, errno.IsSteadyState(err))
}

func TestReceiveBufferTooSmallKeepsPacket(t *testing.T) {
	r := newRig(t)
	pkt := frame(0xab, 100)
	r.dev.Deliver(pkt)
	r.dev.Step()

	n, err := r.drv.Receive(make([]byte, 50))
	assert.ErrorIs(t, err, errno.ErrBufferTooSmall)
	assert.False(t, errno.IsSteadyState(err))
	assert.Equal(t, 100, n)
	assert.Equal(t, uint32(127), r.dev.Read32(e1000.RDT), "slot not consumed")

	buf := make([]byte, 100)
	n, err = r.drv.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, pkt, buf)

	_, err = r.drv.Receive(buf)
	assert.ErrorIs(t, err, errno.ErrQueueEmpty)
}

func TestReceiveWrapsRing(t *testing.T) {
	r := newRig(t)
	buf := make([]byte, 2048)
	for i := 0; i < 300; i++ {
		r.dev.Deliver(frame(byte(i), 64+i%32))
		r.dev.Step()
		n, err := r.drv.Receive(buf)
		require.NoError(t, err, "frame %d", i)
		require.Equal(t, frame(byte(i), 64+i%32), buf[:n])
	}
}

func TestReceiveRingFullCountsMissed(t *testing.T) {
	r := newRig(t)
	for i := 0; i < 130; i++ {
		r.dev.Deliver(frame(byte(i), 60))
	}
	r.dev.Step()

	s := r.drv.Stats()
	assert.Equal(t, 127, s.RxReady)
	assert.Equal(t, uint32(3), s.RxMissed)

	buf := make([]byte, 2048)
	for i := 0; i < 127; i++ {
		n, err := r.drv.Receive(buf)
		require.NoError(t, err)
		require.Equal(t, frame(byte(i), 60), buf[:n])
	}
	_, err := r.drv.Receive(buf)
	assert.True(t, errors.Is(err, errno.ErrQueueEmpty))
}
