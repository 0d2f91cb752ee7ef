// Package server boots the kernel and everything around it: the NIC on a
// PCI bus, the optional UDP wire bridge, the debug HTTP API and the
// monitor. Run drives them under one errgroup.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/GriffinCanCode/AgentOS/exokernel/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/api/monitor"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/e1000"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/pci"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/hardware/nic"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/programs"
)

const (
	idlePoll        = 50 * time.Millisecond
	shutdownTimeout = 5 * time.Second
)

// Server owns the kernel and its surroundings.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	kernel  *kernel.Kernel
	bus     *pci.Bus
	device  *nic.Device
	driver  *e1000.Driver
	bridge  *nic.Bridge
	link    nic.Link
	router  *gin.Engine
	monitor *monitor.Monitor

	mu   sync.Mutex
	addr net.Addr
	stop context.CancelFunc
}

// Option customizes a Server.
type Option func(*Server)

// WithConsole sends the kernel console to out instead of discarding it.
func WithConsole(out io.Writer) Option {
	return func(s *Server) { s.kernel.WithConsole(kernel.NewConsole(out)) }
}

// WithLink replaces the wire side of the NIC. Ignored when a bridge is
// configured.
func WithLink(link nic.Link) Option {
	return func(s *Server) { s.link = link }
}

// New boots the machine described by cfg. It does not start scheduling.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	metrics := monitoring.NewMetrics()
	k, err := kernel.New(cfg.Kernel.Machine(), logger.Named("kernel"))
	if err != nil {
		return nil, fmt.Errorf("failed to boot kernel: %w", err)
	}
	k.WithMetrics(metrics)
	programs.Register(k.Image())

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		kernel:  k,
		bus:     pci.NewBus(logger.Named("pci")),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.NIC.Enabled {
		if err := s.attachNIC(); err != nil {
			return nil, err
		}
	}
	s.monitor = monitor.New(k, s.driver, s.Stop, logger.Named("monitor"))
	s.router = s.setupRouter()

	for _, name := range cfg.Kernel.Programs {
		id, err := programs.Launch(k, name)
		if err != nil {
			s.closeBridge()
			return nil, fmt.Errorf("failed to launch %s: %w", name, err)
		}
		logger.Info("Program launched", zap.String("program", name), logging.Hex("env", uint32(id)))
	}

	logger.Info("Server initialized",
		zap.String("boot_id", k.BootID().String()),
		zap.Int("nenv", cfg.Kernel.NEnv),
		zap.Int("npages", cfg.Kernel.NPages),
		zap.Bool("nic", s.driver != nil),
	)
	return s, nil
}

// attachNIC plugs the device model into the bus and probes for a driver.
func (s *Server) attachNIC() error {
	nc := s.cfg.NIC
	drvCfg, err := nc.Driver()
	if err != nil {
		return err
	}

	link := s.link
	if nc.BridgeListen != "" {
		s.bridge, err = nic.NewBridge(nc.BridgeListen, nc.BridgePeer, s.logger.Named("bridge"))
		if err != nil {
			return err
		}
		link = nic.NewGuard(s.bridge, nic.GuardSettings{}, s.logger.Named("link"))
	}
	if link == nil {
		link = nic.LinkFunc(func([]byte) error { return nil })
	}

	s.device = nic.New(s.kernel.Phys(), nc.Device(), link, s.logger.Named("nic"))
	if s.bridge != nil {
		s.bridge.Attach(s.device)
	}
	s.bus.Add(s.device.PCIFunction())
	s.bus.Register(pci.Driver{
		Name:   "e1000",
		Vendor: e1000.VendorID,
		Device: e1000.DeviceID,
		Attach: func(f *pci.Func) error {
			d, err := e1000.Attach(f, s.kernel.Phys(), drvCfg, s.logger.Named("e1000"))
			if err != nil {
				return err
			}
			s.driver = d
			s.kernel.AttachNIC(d)
			return nil
		},
	})

	n, err := s.bus.Probe()
	if err == nil && n == 0 {
		err = fmt.Errorf("%w: no driver claimed the network card", errno.ErrAttach)
	}
	if err != nil {
		s.logger.Error("NIC attach failed", zap.Error(err))
		s.closeBridge()
		return err
	}
	return nil
}

func (s *Server) setupRouter() *gin.Engine {
	if !s.cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(s.logger.Named("http")))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig().WithOrigins(s.cfg.Server.CORSOrigins)))
	if s.cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.cfg.RateLimit.RequestsPerSecond,
			Burst:             s.cfg.RateLimit.Burst,
		}))
	}

	var network *apihttp.Network
	if s.driver != nil {
		network = &apihttp.Network{Driver: s.driver, Device: s.device}
	}
	apihttp.NewHandlers(s.kernel, network, s.metrics, s.logger.Named("api")).Register(router)
	return router
}

// Kernel returns the booted kernel.
func (s *Server) Kernel() *kernel.Kernel { return s.kernel }

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler { return s.router }

// Monitor returns the kernel monitor.
func (s *Server) Monitor() *monitor.Monitor { return s.monitor }

// Device returns the NIC device model, or nil when the card is disabled.
func (s *Server) Device() *nic.Device { return s.device }

// Addr is the address the HTTP API listens on, or nil before Run binds it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop asks a running Server to shut down. It is safe to call at any time.
func (s *Server) Stop() {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Run schedules environments and serves the API until ctx is cancelled,
// Stop is called, or monitor input (when in is non-nil) ends with exit or
// EOF. A clean stop returns nil.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.stop = cancel
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.schedule(ctx) })
	if s.device != nil {
		g.Go(func() error { return s.device.Run(ctx) })
	}
	if s.bridge != nil {
		g.Go(func() error { return s.bridge.Run(ctx) })
	}
	if s.cfg.Server.Enabled {
		ln, err := net.Listen("tcp", s.cfg.Server.Addr)
		if err != nil {
			cancel()
			_ = g.Wait()
			s.finish()
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Addr, err)
		}
		s.mu.Lock()
		s.addr = ln.Addr()
		s.mu.Unlock()
		g.Go(func() error { return s.serve(ctx, ln) })
	}
	if in != nil {
		g.Go(func() error {
			err := s.monitor.Run(ctx, in, out)
			cancel()
			return err
		})
	}

	err := g.Wait()
	s.finish()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// schedule runs the kernel, polling again while it is idle.
func (s *Server) schedule(ctx context.Context) error {
	t := time.NewTicker(idlePoll)
	defer t.Stop()
	for {
		if err := s.kernel.Run(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.logger.Warn("HTTP shutdown incomplete", zap.Error(err))
		}
	}()

	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return ctx.Err()
}

func (s *Server) closeBridge() {
	if s.bridge != nil {
		s.bridge.Close()
	}
}

// finish destroys every environment and releases the wire side.
func (s *Server) finish() {
	s.logger.Info("Shutting down server...")
	s.kernel.Shutdown()
	s.closeBridge()
	_ = s.logger.Sync()
}
