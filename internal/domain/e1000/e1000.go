// Package e1000 drives the Intel 82540EM: it owns one transmit and one
// receive descriptor ring and moves frames between them and callers
// without ever blocking.
//
// Each descriptor is software-owned when its DD bit is set and
// hardware-owned when it is clear. Transmit slots start software-owned,
// receive slots start hardware-owned. Descriptors live in physical memory
// shared with the device, so every status and length access goes through
// the volatile word accessors of mem.Phys, and register access goes
// through pci.MMIO.
package e1000

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/pci"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
)

// Config sizes the rings.
type Config struct {
	TxDescriptors int
	RxDescriptors int
	BufferSize    int
	MAC           net.HardwareAddr
	LinkStatus    uint32
}

// DefaultConfig returns 64 transmit and 128 receive descriptors with
// 2048-byte buffers and the QEMU default MAC address.
func DefaultConfig() Config {
	return Config{
		TxDescriptors: 64,
		RxDescriptors: 128,
		BufferSize:    2048,
		MAC:           net.HardwareAddr{0x52, 0x54, 0x00, 0x12, 0x34, 0x56},
		LinkStatus:    LinkUp,
	}
}

// Validate checks that the rings fit the hardware constraints.
func (c Config) Validate() error {
	for _, n := range []int{c.TxDescriptors, c.RxDescriptors} {
		if n <= 0 || n*DescSize%128 != 0 || n*DescSize > mem.PGSIZE {
			return fmt.Errorf("descriptor count %d: ring must be a multiple of 128 bytes within one page", n)
		}
	}
	if c.BufferSize != 2048 {
		return fmt.Errorf("buffer size %d: only 2048-byte buffers are supported", c.BufferSize)
	}
	if len(c.MAC) != 6 {
		return fmt.Errorf("mac address %v is not 6 bytes", c.MAC)
	}
	return nil
}

type ring struct {
	desc mem.PhysAddr
	bufs []mem.PhysAddr
}

func (r *ring) len() uint32 { return uint32(len(r.bufs)) }

func (r *ring) at(i uint32) mem.PhysAddr { return r.desc + mem.PhysAddr(i*DescSize) }

// Driver is an attached NIC. Transmit and Receive are meant for a single
// owner; the lock only keeps Stats consistent.
type Driver struct {
	mu   sync.Mutex
	regs pci.MMIO
	phys *mem.Phys
	cfg  Config
	tx   ring
	rx   ring
	log  *logging.Logger
}

// Attach enables f, checks the link and sets up both rings in pages taken
// from phys. The pages stay allocated for the life of the machine.
func Attach(f *pci.Func, phys *mem.Phys, cfg Config, log *logging.Logger) (*Driver, error) {
	if log == nil {
		log = logging.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errno.ErrAttach, err)
	}
	f.Enable()
	regs := f.BARs[0].Regs
	if regs == nil || f.BARs[0].Size < RegSize {
		return nil, fmt.Errorf("%w: BAR0 not mapped", errno.ErrAttach)
	}
	if status := regs.Read32(STATUS); status != cfg.LinkStatus {
		log.Error("e1000 link check failed",
			logging.Hex("status", status),
			logging.Hex("want", cfg.LinkStatus),
		)
		return nil, fmt.Errorf("%w: status %08x, want %08x", errno.ErrAttach, status, cfg.LinkStatus)
	}

	d := &Driver{regs: regs, phys: phys, cfg: cfg, log: log}
	var err error
	if d.tx, err = d.allocRing(cfg.TxDescriptors); err != nil {
		return nil, fmt.Errorf("%w: transmit ring: %v", errno.ErrAttach, err)
	}
	if d.rx, err = d.allocRing(cfg.RxDescriptors); err != nil {
		return nil, fmt.Errorf("%w: receive ring: %v", errno.ErrAttach, err)
	}
	d.initTransmit()
	d.initReceive()
	log.Info("e1000 attached",
		zap.Stringer("func", f),
		zap.String("mac", cfg.MAC.String()),
		zap.Int("tx_descriptors", cfg.TxDescriptors),
		zap.Int("rx_descriptors", cfg.RxDescriptors),
	)
	return d, nil
}

// allocRing takes one pinned page for n descriptors and enough pinned
// pages for n buffers.
func (d *Driver) allocRing(n int) (ring, error) {
	desc, err := d.pin()
	if err != nil {
		return ring{}, err
	}
	r := ring{desc: desc, bufs: make([]mem.PhysAddr, n)}
	per := mem.PGSIZE / d.cfg.BufferSize
	var page mem.PhysAddr
	for i := range r.bufs {
		if i%per == 0 {
			if page, err = d.pin(); err != nil {
				return ring{}, err
			}
		}
		r.bufs[i] = page + mem.PhysAddr(i%per*d.cfg.BufferSize)
	}
	return r, nil
}

func (d *Driver) pin() (mem.PhysAddr, error) {
	pa, err := d.phys.Alloc(true)
	if err != nil {
		return 0, err
	}
	d.phys.IncRef(pa)
	return pa, nil
}

func (d *Driver) initTransmit() {
	for i := uint32(0); i < d.tx.len(); i++ {
		desc := d.tx.at(i)
		d.phys.Store32(desc+DescAddrLo, uint32(d.tx.bufs[i]))
		d.phys.Store32(desc+DescAddrHi, 0)
		d.phys.Store32(desc+DescLength, (TXD_CMD_RS|TXD_CMD_EOP)<<TXD_CMD_SHIFT)
		d.phys.Store32(desc+DescStatus, STAT_DD)
	}
	d.regs.Write32(TDBAL, uint32(d.tx.desc))
	d.regs.Write32(TDBAH, 0)
	d.regs.Write32(TDLEN, d.tx.len()*DescSize)
	d.regs.Write32(TDH, 0)
	d.regs.Write32(TDT, 0)
	d.regs.Write32(TCTL, TCTL_EN|TCTL_PSP|0x10<<TCTL_CT_SHIFT|0x40<<TCTL_COLD_SHIFT)
	d.regs.Write32(TIPG, 10|4<<TIPG_IPGR1_SHIFT|6<<TIPG_IPGR2_SHIFT)
}

func (d *Driver) initReceive() {
	mac := d.cfg.MAC
	d.regs.Write32(RAL0, uint32(mac[0])|uint32(mac[1])<<8|uint32(mac[2])<<16|uint32(mac[3])<<24)
	d.regs.Write32(RAH0, uint32(mac[4])|uint32(mac[5])<<8|RAH_AV)
	for i := uint32(0); i < MTASize; i++ {
		d.regs.Write32(MTA+i*4, 0)
	}
	d.regs.Write32(IMC, 0xffffffff)

	for i := uint32(0); i < d.rx.len(); i++ {
		desc := d.rx.at(i)
		d.phys.Store32(desc+DescAddrLo, uint32(d.rx.bufs[i]))
		d.phys.Store32(desc+DescAddrHi, 0)
		d.phys.Store32(desc+DescLength, 0)
		d.phys.Store32(desc+DescStatus, 0)
	}
	d.regs.Write32(RDBAL, uint32(d.rx.desc))
	d.regs.Write32(RDBAH, 0)
	d.regs.Write32(RDLEN, d.rx.len()*DescSize)
	d.regs.Write32(RDH, 0)
	d.regs.Write32(RDT, d.rx.len()-1)
	d.regs.Write32(RCTL, RCTL_EN|RCTL_BAM|RCTL_BSIZE_2048|RCTL_SECRC)
}

// Transmit queues p in the slot at the tail. It never blocks: a slot still
// owned by the hardware is ErrQueueFull and leaves the ring untouched.
func (d *Driver) Transmit(p []byte) error {
	if len(p) > d.cfg.BufferSize {
		return errno.ErrTooBig
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	tail := d.regs.Read32(TDT) % d.tx.len()
	desc := d.tx.at(tail)
	if d.phys.Load32(desc+DescStatus)&STAT_DD == 0 {
		return errno.ErrQueueFull
	}
	d.phys.Store32(desc+DescStatus, 0)
	d.phys.Write(d.tx.bufs[tail], p)
	d.phys.Store32(desc+DescLength, uint32(len(p))|(TXD_CMD_RS|TXD_CMD_EOP)<<TXD_CMD_SHIFT)
	d.regs.Write32(TDT, (tail+1)%d.tx.len())
	return nil
}

// Receive copies the frame in the slot after the tail into buf and hands
// the slot back to the hardware. An empty slot is ErrQueueEmpty. A frame
// longer than buf is ErrBufferTooSmall with its length returned; the slot
// is not consumed, so the next call sees the same frame.
func (d *Driver) Receive(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := (d.regs.Read32(RDT) + 1) % d.rx.len()
	desc := d.rx.at(next)
	if d.phys.Load32(desc+DescStatus)&STAT_DD == 0 {
		return 0, errno.ErrQueueEmpty
	}
	n := int(d.phys.Load32(desc+DescLength) & 0xffff)
	if n > len(buf) {
		return n, errno.ErrBufferTooSmall
	}
	d.phys.Read(d.rx.bufs[next], buf[:n])
	d.phys.Store32(desc+DescStatus, 0)
	d.regs.Write32(RDT, next)
	return n, nil
}

// MAC returns the station address.
func (d *Driver) MAC() net.HardwareAddr { return d.cfg.MAC }

// Stats describes ring state and the device counters.
type Stats struct {
	MAC           string `json:"mac"`
	TxDescriptors int    `json:"tx_descriptors"`
	RxDescriptors int    `json:"rx_descriptors"`
	TxHead        uint32 `json:"tx_head"`
	TxTail        uint32 `json:"tx_tail"`
	RxHead        uint32 `json:"rx_head"`
	RxTail        uint32 `json:"rx_tail"`
	TxFree        int    `json:"tx_free"`
	RxReady       int    `json:"rx_ready"`
	TxPackets     uint32 `json:"tx_packets"`
	RxPackets     uint32 `json:"rx_packets"`
	RxMissed      uint32 `json:"rx_missed"`
}

// Stats reads the ring registers and counts slots by owner.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Stats{
		MAC:           d.cfg.MAC.String(),
		TxDescriptors: int(d.tx.len()),
		RxDescriptors: int(d.rx.len()),
		TxHead:        d.regs.Read32(TDH),
		TxTail:        d.regs.Read32(TDT),
		RxHead:        d.regs.Read32(RDH),
		RxTail:        d.regs.Read32(RDT),
		TxPackets:     d.regs.Read32(GPTC),
		RxPackets:     d.regs.Read32(GPRC),
		RxMissed:      d.regs.Read32(MPC),
	}
	for i := uint32(0); i < d.tx.len(); i++ {
		if d.phys.Load32(d.tx.at(i)+DescStatus)&STAT_DD != 0 {
			s.TxFree++
		}
	}
	for i := uint32(0); i < d.rx.len(); i++ {
		if d.phys.Load32(d.rx.at(i)+DescStatus)&STAT_DD != 0 {
			s.RxReady++
		}
	}
	return s
}
