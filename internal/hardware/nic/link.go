package nic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
)

// Capture is a Link that keeps every transmitted frame.
type Capture struct {
	mu     sync.Mutex
	frames [][]byte
	notify chan struct{}
}

// NewCapture creates an empty capture.
func NewCapture() *Capture {
	return &Capture{notify: make(chan struct{}, 1)}
}

func (c *Capture) Send(frame []byte) error {
	c.mu.Lock()
	c.frames = append(c.frames, append([]byte(nil), frame...))
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Frames returns the frames sent so far.
func (c *Capture) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

// Wait blocks until at least n frames were sent or ctx is done.
func (c *Capture) Wait(ctx context.Context, n int) ([][]byte, error) {
	for {
		if f := c.Frames(); len(f) >= n {
			return f, nil
		}
		select {
		case <-ctx.Done():
			return c.Frames(), ctx.Err()
		case <-c.notify:
		}
	}
}

// Bridge carries frames over UDP: every transmitted frame becomes one
// datagram to the peer, and every datagram received is delivered to the
// device.
type Bridge struct {
	conn *net.UDPConn
	mu   sync.Mutex
	peer *net.UDPAddr
	dev  *Device
	log  *logging.Logger
}

// NewBridge listens on listen and sends to peer. Either may be empty: an
// empty peer makes the bridge reply to the last sender.
func NewBridge(listen, peer string, log *logging.Logger) (*Bridge, error) {
	if log == nil {
		log = logging.NewNop()
	}
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bridge listen address: %w", err)
	}
	b := &Bridge{log: log}
	if peer != "" {
		if b.peer, err = net.ResolveUDPAddr("udp", peer); err != nil {
			return nil, fmt.Errorf("failed to resolve bridge peer address: %w", err)
		}
	}
	if b.conn, err = net.ListenUDP("udp", laddr); err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listen, err)
	}
	return b, nil
}

// Attach sets the device frames are delivered to.
func (b *Bridge) Attach(dev *Device) { b.dev = dev }

// Addr is the local address of the bridge.
func (b *Bridge) Addr() net.Addr { return b.conn.LocalAddr() }

func (b *Bridge) Send(frame []byte) error {
	b.mu.Lock()
	peer := b.peer
	b.mu.Unlock()
	if peer == nil {
		return nil
	}
	_, err := b.conn.WriteToUDP(frame, peer)
	return err
}

// Run delivers inbound datagrams until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.conn.Close()
	}()
	buf := make([]byte, 65536)
	for {
		n, from, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			b.log.Warn("bridge read failed", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}
		b.mu.Lock()
		if b.peer == nil {
			b.peer = from
		}
		b.mu.Unlock()
		if b.dev != nil {
			b.dev.Deliver(buf[:n])
		}
	}
}

// Close releases the socket.
func (b *Bridge) Close() error { return b.conn.Close() }
