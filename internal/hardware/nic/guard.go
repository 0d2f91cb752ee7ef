package nic

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
)

// ErrLinkDown is returned by a Guard that is dropping frames.
var ErrLinkDown = errors.New("nic: link down")

// LinkState is the state of a Guard.
type LinkState int

const (
	LinkClosed LinkState = iota
	LinkHalfOpen
	LinkOpen
)

// String returns the string representation of the state
func (s LinkState) String() string {
	switch s {
	case LinkClosed:
		return "up"
	case LinkHalfOpen:
		return "probing"
	case LinkOpen:
		return "down"
	default:
		return "unknown"
	}
}

// GuardSettings configures when a Guard gives up on its link.
type GuardSettings struct {
	// Threshold is the number of consecutive failures that takes the link down.
	Threshold uint32
	// Cooldown is how long the link stays down before one frame probes it.
	Cooldown time.Duration
	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

// Guard is a circuit breaker around a Link. After Threshold consecutive
// send failures it drops frames for Cooldown, then lets a single frame
// through; success brings the link back up, failure takes it down again.
type Guard struct {
	link     Link
	settings GuardSettings
	log      *logging.Logger

	mu       sync.Mutex
	state    LinkState
	failures uint32
	expiry   time.Time
	dropped  uint64
}

// NewGuard wraps link.
func NewGuard(link Link, settings GuardSettings, log *logging.Logger) *Guard {
	if settings.Threshold == 0 {
		settings.Threshold = 5
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = time.Second
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Guard{link: link, settings: settings, log: log}
}

// State returns the current state.
func (g *Guard) State() LinkState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentState(g.settings.Now())
}

// Dropped is the number of frames discarded while the link was down.
func (g *Guard) Dropped() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dropped
}

// Send implements Link.
func (g *Guard) Send(frame []byte) error {
	g.mu.Lock()
	now := g.settings.Now()
	if g.currentState(now) == LinkOpen {
		g.dropped++
		g.mu.Unlock()
		return ErrLinkDown
	}
	g.mu.Unlock()

	err := g.link.Send(frame)

	g.mu.Lock()
	defer g.mu.Unlock()
	now = g.settings.Now()
	switch {
	case err == nil:
		g.failures = 0
		g.setState(LinkClosed, now, nil)
	case g.state == LinkHalfOpen:
		g.setState(LinkOpen, now, err)
	default:
		g.failures++
		if g.failures >= g.settings.Threshold {
			g.setState(LinkOpen, now, err)
		}
	}
	return err
}

// currentState moves an expired open link to half-open.
func (g *Guard) currentState(now time.Time) LinkState {
	if g.state == LinkOpen && !g.expiry.After(now) {
		g.setState(LinkHalfOpen, now, nil)
	}
	return g.state
}

func (g *Guard) setState(state LinkState, now time.Time, cause error) {
	if g.state == state {
		return
	}
	prev := g.state
	g.state = state
	g.failures = 0
	if state == LinkOpen {
		g.expiry = now.Add(g.settings.Cooldown)
	}

	fields := []zap.Field{
		zap.Stringer("from", prev),
		zap.Stringer("to", state),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	if state == LinkOpen {
		g.log.Warn("nic link state changed", fields...)
	} else {
		g.log.Info("nic link state changed", fields...)
	}
}
