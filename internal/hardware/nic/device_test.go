package nic

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/e1000"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
)

func attach(t *testing.T, cfg Config, link Link) (*Device, *e1000.Driver) {
	t.Helper()
	phys, err := mem.NewPhys(256, 8)
	require.NoError(t, err)
	dev := New(phys, cfg, link, nil)
	drv, err := e1000.Attach(dev.PCIFunction(), phys, e1000.DefaultConfig(), nil)
	require.NoError(t, err)
	return dev, drv
}

func TestPCIFunction(t *testing.T) {
	dev, _ := attach(t, DefaultConfig(), nil)
	f := dev.PCIFunction()
	assert.Equal(t, uint16(e1000.VendorID), f.Vendor)
	assert.Equal(t, uint16(e1000.DeviceID), f.Device)
	assert.Equal(t, uint32(e1000.RegSize), f.BARs[0].Size)
	assert.Equal(t, uint32(e1000.LinkUp), f.BARs[0].Regs.Read32(e1000.STATUS))
}

func TestStatusIsReadOnly(t *testing.T) {
	dev, _ := attach(t, DefaultConfig(), nil)
	dev.Write32(e1000.STATUS, 0)
	assert.Equal(t, uint32(e1000.LinkUp), dev.Read32(e1000.STATUS))
	assert.Zero(t, dev.Read32(e1000.RegSize+4))
}

func TestDoorbellAccumulates(t *testing.T) {
	capture := NewCapture()
	dev, drv := attach(t, DefaultConfig(), capture)
	for i := 0; i < 10; i++ {
		require.NoError(t, drv.Transmit([]byte{byte(i)}))
	}
	assert.Equal(t, uint32(10), dev.Stats().Pending)

	dev.Step()
	s := dev.Stats()
	assert.Zero(t, s.Pending)
	assert.Equal(t, uint32(10), s.TxPackets)
	assert.Equal(t, uint32(10), s.TxBytes)
	assert.Len(t, capture.Frames(), 10)
	assert.Equal(t, uint32(10), dev.Read32(e1000.TDH))
}

func TestDeliverDropsWhenInboxFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InboxSize = 2
	dev, _ := attach(t, cfg, nil)
	for i := 0; i < 3; i++ {
		dev.Deliver([]byte{1, 2, 3})
	}
	s := dev.Stats()
	assert.Equal(t, 2, s.Queued)
	assert.Equal(t, uint32(1), s.Missed)
}

func TestOversizeFrameDropped(t *testing.T) {
	dev, drv := attach(t, DefaultConfig(), nil)
	dev.Deliver(make([]byte, 3000))
	dev.Step()
	assert.Equal(t, uint32(1), dev.Stats().Oversize)
	_, err := drv.Receive(make([]byte, 4096))
	assert.ErrorIs(t, err, errno.ErrQueueEmpty)
}

func TestRunStepsOnDoorbell(t *testing.T) {
	capture := NewCapture()
	cfg := DefaultConfig()
	cfg.Tick = time.Hour
	dev, drv := attach(t, cfg, capture)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- dev.Run(ctx) }()

	require.NoError(t, drv.Transmit([]byte("ping")))
	frames, err := capture.Wait(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), frames[0])

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBridgeCarriesFramesBothWays(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()

	bridge, err := NewBridge("127.0.0.1:0", peer.LocalAddr().String(), nil)
	require.NoError(t, err)
	dev, drv := attach(t, DefaultConfig(), bridge)
	bridge.Attach(dev)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go dev.Run(ctx)
	go bridge.Run(ctx)

	require.NoError(t, drv.Transmit([]byte("outbound")))
	buf := make([]byte, 2048)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, _, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "outbound", string(buf[:n]))

	_, err = peer.WriteTo([]byte("inbound"), bridge.Addr())
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		rx := make([]byte, 2048)
		n, err := drv.Receive(rx)
		return err == nil && string(rx[:n]) == "inbound"
	}, 5*time.Second, 5*time.Millisecond)
}
