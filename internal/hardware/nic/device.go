// Package nic is a behavioral model of an E1000 network card: a register
// file, descriptor ring DMA against physical memory, and a wire side that
// frames leave through and arrive from.
package nic

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/e1000"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/pci"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
)

// Link is the wire side of the device.
type Link interface {
	Send(frame []byte) error
}

// LinkFunc adapts a function to Link.
type LinkFunc func(frame []byte) error

func (f LinkFunc) Send(frame []byte) error { return f(frame) }

// Config describes the simulated card.
type Config struct {
	LinkStatus uint32
	BAR0       uint32
	InboxSize  int
	Tick       time.Duration
}

// DefaultConfig reports a full duplex gigabit link.
func DefaultConfig() Config {
	return Config{
		LinkStatus: e1000.LinkUp,
		BAR0:       0xfebc0000,
		InboxSize:  256,
		Tick:       10 * time.Millisecond,
	}
}

// Device is the simulated card. Register accesses are atomic and may come
// from any goroutine; DMA runs in Step.
type Device struct {
	cfg  Config
	phys *mem.Phys
	link Link
	log  *logging.Logger

	regs []atomic.Uint32

	mu      sync.Mutex // serializes Step
	pending atomic.Uint32
	inbox   chan []byte
	kick    chan struct{}
}

// New creates a device doing DMA against phys and sending on link, which
// may be nil to discard transmitted frames.
func New(phys *mem.Phys, cfg Config, link Link, log *logging.Logger) *Device {
	if log == nil {
		log = logging.NewNop()
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1
	}
	d := &Device{
		cfg:   cfg,
		phys:  phys,
		link:  link,
		log:   log,
		regs:  make([]atomic.Uint32, e1000.RegSize/4),
		inbox: make(chan []byte, cfg.InboxSize),
		kick:  make(chan struct{}, 1),
	}
	d.regs[e1000.STATUS/4].Store(cfg.LinkStatus)
	return d
}

// PCIFunction describes the card for the bus.
func (d *Device) PCIFunction() *pci.Func {
	f := &pci.Func{
		Dev:      3,
		Vendor:   e1000.VendorID,
		Device:   e1000.DeviceID,
		Class:    0x02,
		Subclass: 0x00,
	}
	f.BARs[0] = pci.BAR{Base: d.cfg.BAR0, Size: e1000.RegSize, Regs: d}
	return f
}

// Read32 implements pci.MMIO.
func (d *Device) Read32(off uint32) uint32 {
	if off >= e1000.RegSize {
		return 0
	}
	return d.regs[off/4].Load()
}

// Write32 implements pci.MMIO. A TDT write rings the transmit doorbell
// for every descriptor between the old and new tail.
func (d *Device) Write32(off, v uint32) {
	switch {
	case off >= e1000.RegSize, off == e1000.STATUS:
		return
	case off == e1000.TDT:
		old := d.regs[off/4].Swap(v)
		if n := d.txLen(); n > 0 && v != old {
			d.pending.Add((v + n - old) % n)
			d.signal()
		}
		return
	case off == e1000.RDT:
		d.regs[off/4].Store(v)
		d.signal()
		return
	}
	d.regs[off/4].Store(v)
}

func (d *Device) reg(off uint32) uint32 { return d.regs[off/4].Load() }

func (d *Device) add(off, n uint32) { d.regs[off/4].Add(n) }

func (d *Device) txLen() uint32 { return d.reg(e1000.TDLEN) / e1000.DescSize }

func (d *Device) rxLen() uint32 { return d.reg(e1000.RDLEN) / e1000.DescSize }

func (d *Device) signal() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Deliver puts a frame on the wire toward the card. It is dropped and
// counted as missed when the inbound queue is full.
func (d *Device) Deliver(frame []byte) {
	select {
	case d.inbox <- append([]byte(nil), frame...):
		d.signal()
	default:
		d.add(e1000.MPC, 1)
	}
}

// Step performs all pending DMA: transmits every doorbelled descriptor
// and fills free receive descriptors from the inbound queue.
func (d *Device) Step() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transmit()
	d.receive()
}

func (d *Device) transmit() {
	if d.reg(e1000.TCTL)&e1000.TCTL_EN == 0 {
		return
	}
	n := d.txLen()
	if n == 0 {
		return
	}
	base := mem.PhysAddr(d.reg(e1000.TDBAL))
	for d.pending.Load() > 0 {
		head := d.reg(e1000.TDH) % n
		desc := base + mem.PhysAddr(head*e1000.DescSize)
		addr := mem.PhysAddr(d.phys.Load32(desc + e1000.DescAddrLo))
		length := d.phys.Load32(desc+e1000.DescLength) & 0xffff
		frame := make([]byte, length)
		d.phys.Read(addr, frame)
		if d.link != nil {
			if err := d.link.Send(frame); err != nil && !errors.Is(err, ErrLinkDown) {
				d.log.Warn("nic link send failed", zap.Error(err))
			}
		}
		status := d.phys.Load32(desc + e1000.DescStatus)
		d.phys.Store32(desc+e1000.DescStatus, status|e1000.STAT_DD)
		d.regs[e1000.TDH/4].Store((head + 1) % n)
		d.pending.Add(^uint32(0))
		d.add(e1000.GPTC, 1)
		d.add(e1000.TOTL, length)
	}
}

func (d *Device) receive() {
	if d.reg(e1000.RCTL)&e1000.RCTL_EN == 0 {
		return
	}
	n := d.rxLen()
	if n == 0 {
		return
	}
	base := mem.PhysAddr(d.reg(e1000.RDBAL))
	for {
		var frame []byte
		select {
		case frame = <-d.inbox:
		default:
			return
		}
		head := d.reg(e1000.RDH) % n
		if head == d.reg(e1000.RDT)%n {
			d.add(e1000.MPC, 1)
			continue
		}
		if len(frame) > 2048 {
			d.add(e1000.ROC, 1)
			continue
		}
		desc := base + mem.PhysAddr(head*e1000.DescSize)
		addr := mem.PhysAddr(d.phys.Load32(desc + e1000.DescAddrLo))
		d.phys.Write(addr, frame)
		d.phys.Store32(desc+e1000.DescLength, uint32(len(frame)))
		d.phys.Store32(desc+e1000.DescStatus, e1000.STAT_DD|e1000.RXD_STAT_EOP)
		d.regs[e1000.RDH/4].Store((head + 1) % n)
		d.add(e1000.GPRC, 1)
		d.add(e1000.TORL, uint32(len(frame)))
	}
}

// Run steps the device on doorbells, deliveries and a periodic tick until
// ctx is done.
func (d *Device) Run(ctx context.Context) error {
	tick := d.cfg.Tick
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.kick:
		case <-t.C:
		}
		d.Step()
	}
}

// Stats are the device-side counters.
type Stats struct {
	TxPackets uint32 `json:"tx_packets"`
	TxBytes   uint32 `json:"tx_bytes"`
	RxPackets uint32 `json:"rx_packets"`
	RxBytes   uint32 `json:"rx_bytes"`
	Missed    uint32 `json:"missed"`
	Oversize  uint32 `json:"oversize"`
	Pending   uint32 `json:"pending"`
	Queued    int    `json:"queued"`
}

// Stats reads the counters.
func (d *Device) Stats() Stats {
	return Stats{
		TxPackets: d.reg(e1000.GPTC),
		TxBytes:   d.reg(e1000.TOTL),
		RxPackets: d.reg(e1000.GPRC),
		RxBytes:   d.reg(e1000.TORL),
		Missed:    d.reg(e1000.MPC),
		Oversize:  d.reg(e1000.ROC),
		Pending:   d.pending.Load(),
		Queued:    len(d.inbox),
	}
}
