// Package pci is a minimal configuration-space bus. Device functions are
// added by the platform at boot, drivers register by vendor and device id,
// and Probe attaches the first matching driver to each function.
package pci

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
)

// MMIO is a memory-mapped register block addressed by byte offset. Every
// access reaches the device; nothing is cached or reordered.
type MMIO interface {
	Read32(off uint32) uint32
	Write32(off, v uint32)
}

// BAR is a base address register: where a function's register block sits
// and how large it is.
type BAR struct {
	Base uint32
	Size uint32
	Regs MMIO
}

// Func is one PCI function.
type Func struct {
	Bus, Dev, Fn uint8

	Vendor   uint16
	Device   uint16
	Class    uint8
	Subclass uint8

	BARs [6]BAR

	enabled bool
}

// Enable turns on memory and I/O decoding and bus mastering.
func (f *Func) Enable() { f.enabled = true }

// Enabled reports whether Enable was called.
func (f *Func) Enabled() bool { return f.enabled }

func (f *Func) String() string {
	return fmt.Sprintf("%02x:%02x.%d %04x:%04x", f.Bus, f.Dev, f.Fn, f.Vendor, f.Device)
}

// Driver attaches to functions with a matching vendor and device id.
type Driver struct {
	Name   string
	Vendor uint16
	Device uint16
	Attach func(f *Func) error
}

// Bus holds the functions present and the registered drivers.
type Bus struct {
	mu      sync.Mutex
	funcs   []*Func
	drivers []Driver
	log     *logging.Logger
}

// NewBus creates an empty bus.
func NewBus(log *logging.Logger) *Bus {
	if log == nil {
		log = logging.NewNop()
	}
	return &Bus{log: log}
}

// Add plugs a function into the bus.
func (b *Bus) Add(f *Func) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.funcs = append(b.funcs, f)
}

// Register adds a driver to the attach table.
func (b *Bus) Register(d Driver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drivers = append(b.drivers, d)
}

// Funcs returns the functions on the bus in the order they were added.
func (b *Bus) Funcs() []*Func {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Func(nil), b.funcs...)
}

// Probe attaches drivers and returns how many functions were claimed. An
// attach error stops the probe.
func (b *Bus) Probe() (int, error) {
	b.mu.Lock()
	funcs := append([]*Func(nil), b.funcs...)
	drivers := append([]Driver(nil), b.drivers...)
	b.mu.Unlock()

	attached := 0
	for _, f := range funcs {
		for _, d := range drivers {
			if d.Vendor != f.Vendor || d.Device != f.Device {
				continue
			}
			b.log.Info("pci attach",
				zap.Stringer("func", f),
				zap.String("driver", d.Name),
			)
			if err := d.Attach(f); err != nil {
				return attached, fmt.Errorf("pci: attach %s to %s: %w", d.Name, f, err)
			}
			attached++
			break
		}
	}
	return attached, nil
}
