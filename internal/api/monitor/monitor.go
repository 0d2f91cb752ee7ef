package monitor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/e1000"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
)

const (
	prompt  = "K> "
	maxArgs = 16
)

// ErrExit is returned by Exec when the command leaves the monitor.
var ErrExit = errors.New("monitor: exit")

type command struct {
	name string
	desc string
	run  func(m *Monitor, w io.Writer, args []string) error
}

// commands is filled in init since help lists it.
var commands []command

func init() {
	commands = []command{
		{"help", "Display this list of commands", (*Monitor).help},
		{"kerninfo", "Display information about the kernel", (*Monitor).kerninfo},
		{"envs", "List live environments", (*Monitor).envs},
		{"ppm", "Show page mappings: ppm <envid> [start [end]]", (*Monitor).ppm},
		{"net", "Display NIC ring state", (*Monitor).net},
		{"kill", "Destroy an environment: kill <envid>", (*Monitor).kill},
		{"shutdown", "Stop the kernel", (*Monitor).shutdown},
		{"exit", "Stop the kernel", (*Monitor).shutdown},
	}
}

// Monitor executes monitor commands against a kernel.
type Monitor struct {
	kernel *kernel.Kernel
	nic    *e1000.Driver
	stop   func()
	log    *logging.Logger
}

// New creates a monitor. nic may be nil when no card is attached; stop is
// called by shutdown and may be nil.
func New(k *kernel.Kernel, nic *e1000.Driver, stop func(), log *logging.Logger) *Monitor {
	if log == nil {
		log = logging.NewNop()
	}
	return &Monitor{kernel: k, nic: nic, stop: stop, log: log}
}

// Exec runs one command line. Empty lines do nothing.
func (m *Monitor) Exec(w io.Writer, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	if len(args) > maxArgs {
		fmt.Fprintf(w, "Too many arguments (max %d)\n", maxArgs)
		return nil
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(m, w, args)
		}
	}
	fmt.Fprintf(w, "Unknown command '%s'\n", args[0])
	return nil
}

// Run reads commands from in until EOF, shutdown or cancellation.
func (m *Monitor) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprint(out, "Welcome to the kernel monitor!\nType 'help' for a list of commands.\n")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, prompt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := m.Exec(out, line); err != nil {
				if errors.Is(err, ErrExit) {
					return nil
				}
				return err
			}
		}
	}
}

func (m *Monitor) help(w io.Writer, _ []string) error {
	for _, c := range commands {
		fmt.Fprintf(w, "%s - %s\n", c.name, c.desc)
	}
	return nil
}

func (m *Monitor) kerninfo(w io.Writer, _ []string) error {
	st := m.kernel.MemStats()
	cfg := m.kernel.Config()
	fmt.Fprintf(w, "Boot id: %s\n", m.kernel.BootID().String())
	fmt.Fprintf(w, "Uptime: %s\n", m.kernel.Uptime().Truncate(time.Millisecond))
	fmt.Fprintf(w, "Environments: %d live, %d slots\n", len(m.kernel.Envs()), cfg.NEnv)
	fmt.Fprintf(w, "Physical memory: %dK available, %d of %d pages free, %d reserved\n",
		st.Pages*mem.PGSIZE/1024, st.Free, st.Pages, st.Reserved)
	return nil
}

func (m *Monitor) envs(w io.Writer, _ []string) error {
	snaps := m.kernel.Envs()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPARENT\tTYPE\tSTATUS\tRUNS\tENTRY")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.ParentID, s.Type, s.Status, s.Runs, m.kernel.Image().Describe(s.TF.EIP))
	}
	return tw.Flush()
}

func parseEnv(s string) (env.ID, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid environment id '%s'", s)
	}
	return env.ID(v), nil
}

func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid address '%s'", s)
	}
	return uint32(v), nil
}

func (m *Monitor) ppm(w io.Writer, args []string) error {
	if len(args) < 2 || len(args) > 4 {
		fmt.Fprintln(w, "usage: ppm <envid> [start [end]]")
		return nil
	}
	id, err := parseEnv(args[1])
	if err != nil {
		fmt.Fprintln(w, err)
		return nil
	}
	start, end := uint32(0), uint32(mem.UTOP)
	if len(args) > 2 {
		if start, err = parseAddr(args[2]); err != nil {
			fmt.Fprintln(w, err)
			return nil
		}
		end = start + mem.PGSIZE
	}
	if len(args) > 3 {
		if end, err = parseAddr(args[3]); err != nil {
			fmt.Fprintln(w, err)
			return nil
		}
	}

	maps, err := m.kernel.Mappings(id, start, end)
	if err != nil {
		fmt.Fprintf(w, "ppm: %v\n", err)
		return nil
	}
	if len(maps) == 0 {
		fmt.Fprintf(w, "no mappings in [%08x, %08x)\n", start, end)
		return nil
	}
	for _, mp := range maps {
		fmt.Fprintf(w, "%08x -> %08x %s refs=%d\n", mp.VA, uint32(mp.PA), mp.Perm, m.kernel.PageRef(mp.PA))
	}
	return nil
}

func (m *Monitor) net(w io.Writer, _ []string) error {
	if m.nic == nil {
		fmt.Fprintln(w, "no network card attached")
		return nil
	}
	s := m.nic.Stats()
	fmt.Fprintf(w, "e1000 %s\n", s.MAC)
	fmt.Fprintf(w, "  tx: %d descriptors, head %d tail %d, %d free, %d packets\n",
		s.TxDescriptors, s.TxHead, s.TxTail, s.TxFree, s.TxPackets)
	fmt.Fprintf(w, "  rx: %d descriptors, head %d tail %d, %d ready, %d packets, %d missed\n",
		s.RxDescriptors, s.RxHead, s.RxTail, s.RxReady, s.RxPackets, s.RxMissed)
	return nil
}

func (m *Monitor) kill(w io.Writer, args []string) error {
	if len(args) != 2 {
		fmt.Fprintln(w, "usage: kill <envid>")
		return nil
	}
	id, err := parseEnv(args[1])
	if err != nil {
		fmt.Fprintln(w, err)
		return nil
	}
	if err := m.kernel.Destroy(id); err != nil {
		fmt.Fprintf(w, "kill: %v\n", err)
		return nil
	}
	m.log.ForEnv(uint32(id)).Info("env destroyed from monitor")
	fmt.Fprintf(w, "[%s] destroyed\n", id)
	return nil
}

func (m *Monitor) shutdown(w io.Writer, _ []string) error {
	fmt.Fprintln(w, "Shutting down")
	if m.stop != nil {
		m.stop()
	}
	return ErrExit
}
