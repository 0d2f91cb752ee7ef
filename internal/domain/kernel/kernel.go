package kernel

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/sched"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/shared/id"
)

// Config sizes the machine.
type Config struct {
	NEnv          int // environment slots, a power of two
	NPages        int // physical pages
	ReservedPages int // low pages held by the boot image
}

// DefaultConfig returns a 16MB machine with 1024 environment slots.
func DefaultConfig() Config {
	return Config{
		NEnv:          1024,
		NPages:        4096,
		ReservedPages: 256,
	}
}

// PacketDevice is the non-blocking packet interface of the NIC driver.
type PacketDevice interface {
	Transmit(p []byte) error
	Receive(buf []byte) (int, error)
}

// Kernel owns physical memory, the environment table and the CPU. All
// kernel state is guarded by mu; an environment holds the CPU between
// hand-offs but takes mu for every kernel entry.
type Kernel struct {
	mu sync.Mutex

	cfg     Config
	log     *logging.Logger
	metrics *monitoring.Metrics
	bootID  id.BootID
	boot    time.Time
	now     func() time.Time

	phys    *mem.Phys
	envs    *env.Table
	sched   *sched.RoundRobin
	image   *Image
	console *Console
	nic     PacketDevice

	runners []*runner
	curenv  *env.Env
	events  chan event
	netbuf  []byte
}

// New boots a kernel: physical memory, an empty environment table and an
// empty program image.
func New(cfg Config, logger *logging.Logger) (*Kernel, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	phys, err := mem.NewPhys(cfg.NPages, cfg.ReservedPages)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize physical memory: %w", err)
	}
	envs, err := env.NewTable(cfg.NEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize environment table: %w", err)
	}
	k := &Kernel{
		cfg:     cfg,
		log:     logger,
		bootID:  id.NewBootID(),
		now:     time.Now,
		phys:    phys,
		envs:    envs,
		sched:   sched.New(),
		image:   NewImage(),
		console: NewConsole(nil),
		runners: make([]*runner, cfg.NEnv),
		events:  make(chan event, 1),
		netbuf:  make([]byte, mem.PGSIZE),
	}
	k.boot = k.now()
	logger.Info("Kernel initialized",
		zap.String("boot_id", k.bootID.String()),
		zap.Int("npages", phys.NPages()),
		zap.Int("free_pages", phys.NFree()),
		zap.Int("nenv", envs.Len()),
	)
	return k, nil
}

// WithMetrics attaches a metrics collector.
func (k *Kernel) WithMetrics(m *monitoring.Metrics) *Kernel {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.metrics = m
	k.publishLocked()
	return k
}

// WithConsole replaces the console.
func (k *Kernel) WithConsole(c *Console) *Kernel {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.console = c
	return k
}

// WithClock replaces the wall clock and restarts the boot epoch.
func (k *Kernel) WithClock(now func() time.Time) *Kernel {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.now = now
	k.boot = now()
	return k
}

// AttachNIC makes dev the target of the packet syscalls.
func (k *Kernel) AttachNIC(dev PacketDevice) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nic = dev
}

// NIC returns the attached packet device, or nil.
func (k *Kernel) NIC() PacketDevice {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.nic
}

// Image is the registry of executable user code.
func (k *Kernel) Image() *Image { return k.image }

// Console is the machine console.
func (k *Kernel) Console() *Console {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.console
}

// Phys exposes physical memory for device setup at boot. It must not be
// used while environments run.
func (k *Kernel) Phys() *mem.Phys { return k.phys }

// Config returns the machine configuration.
func (k *Kernel) Config() Config { return k.cfg }

// BootID identifies this boot.
func (k *Kernel) BootID() id.BootID { return k.bootID }

// Uptime is the time since boot on the kernel clock.
func (k *Kernel) Uptime() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.now().Sub(k.boot)
}

// Create allocates a runnable top-level environment that starts at entry
// with one page of stack, like loading a boot-time program.
func (k *Kernel) Create(entry EntryRef, typ env.Type) (env.ID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.allocLocked(0)
	if err != nil {
		return 0, fmt.Errorf("env_create: %w", err)
	}
	pa, err := k.phys.Alloc(true)
	if err == nil {
		err = e.AS.Insert(pa, mem.USTACKTOP-mem.PGSIZE, mem.PTE_U|mem.PTE_W)
		if err != nil {
			k.phys.Free(pa)
		}
	}
	if err != nil {
		k.freeLocked(e, false)
		return 0, fmt.Errorf("env_create: stack: %w", err)
	}
	e.Type = typ
	e.TF.EIP = uint32(entry)
	e.Status = env.Runnable
	k.publishLocked()
	return e.ID, nil
}

// allocLocked takes an environment slot and gives it an address space.
func (k *Kernel) allocLocked(parent env.ID) (*env.Env, error) {
	e, err := k.envs.Alloc(parent)
	if err != nil {
		return nil, err
	}
	as, err := mem.NewAddrSpace(k.phys)
	if err != nil {
		k.envs.Release(e)
		return nil, err
	}
	e.AS = as
	k.metrics.RecordEnvCreated()
	k.log.Info("new env",
		logging.Hex("env", uint32(e.ID)),
		logging.Hex("parent", uint32(parent)),
	)
	return e, nil
}

// destroyLocked destroys e. The running environment is only marked dying;
// it is reclaimed when its execution unwinds. It reports whether e was the
// caller.
func (k *Kernel) destroyLocked(e *env.Env, reason string) bool {
	k.metrics.RecordEnvDestroyed(reason)
	if e == k.curenv {
		e.Status = env.Dying
		return true
	}
	k.freeLocked(e, true)
	return false
}

// freeLocked tears down e's address space and releases its slot. With
// kill set a parked execution is told to unwind.
func (k *Kernel) freeLocked(e *env.Env, kill bool) {
	idx := e.Index()
	if r := k.runners[idx]; r != nil && r.id == e.ID {
		if kill {
			r.kill()
		}
		k.runners[idx] = nil
	}
	k.log.Info("free env",
		logging.Hex("env", uint32(e.ID)),
		zap.Uint32("runs", e.Runs),
	)
	if e.AS != nil {
		e.AS.Destroy()
	}
	k.envs.Release(e)
	k.publishLocked()
}

func (k *Kernel) publishLocked() {
	if k.metrics == nil {
		return
	}
	k.metrics.SetPages(k.phys.NFree(), k.phys.NPages())
	counts := map[string]int{
		env.Runnable.String():    0,
		env.NotRunnable.String(): 0,
		env.Dying.String():       0,
	}
	k.envs.Each(func(e *env.Env) { counts[e.Status.String()]++ })
	k.metrics.SetEnvs(counts)
}

// MemStats summarizes physical memory.
type MemStats struct {
	Pages    int `json:"pages"`
	Free     int `json:"free"`
	Reserved int `json:"reserved"`
}

// MemStats reports physical memory usage.
func (k *Kernel) MemStats() MemStats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return MemStats{Pages: k.phys.NPages(), Free: k.phys.NFree(), Reserved: k.phys.NReserved()}
}

// Envs returns a snapshot of every live environment.
func (k *Kernel) Envs() []env.Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []env.Snapshot
	k.envs.Each(func(e *env.Env) { out = append(out, e.Snapshot()) })
	return out
}

// Env returns a snapshot of one environment.
func (k *Kernel) Env(id env.ID) (env.Snapshot, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.envs.Lookup(id)
	if err != nil {
		return env.Snapshot{}, err
	}
	return e.Snapshot(), nil
}

// Mappings lists the user mappings of an environment in [start, end).
func (k *Kernel) Mappings(id env.ID, start, end uint32) ([]mem.Mapping, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.envs.Lookup(id)
	if err != nil {
		return nil, err
	}
	if e.AS == nil {
		return nil, errno.ErrBadEnv
	}
	return e.AS.Mappings(start, end), nil
}

// PageRef reports the reference count of the page holding pa.
func (k *Kernel) PageRef(pa mem.PhysAddr) int32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.phys.Ref(pa)
}

// Destroy destroys an environment from outside any environment, as the
// monitor does.
func (k *Kernel) Destroy(id env.ID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, err := k.envs.Lookup(id)
	if err != nil {
		return err
	}
	if e == k.curenv {
		return fmt.Errorf("env %s is running", id)
	}
	k.destroyLocked(e, "killed")
	return nil
}

// Shutdown destroys every environment that is not currently running. It
// is meant for use after Run has returned.
func (k *Kernel) Shutdown() {
	k.mu.Lock()
	defer k.mu.Unlock()
	var live []*env.Env
	k.envs.Each(func(e *env.Env) {
		if e != k.curenv {
			live = append(live, e)
		}
	})
	for _, e := range live {
		k.destroyLocked(e, "shutdown")
	}
	k.log.Info("Kernel shut down", zap.Int("destroyed", len(live)))
}
