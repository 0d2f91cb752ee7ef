package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/e1000"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/hardware/nic"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/infrastructure/monitoring"
)

// Network is the NIC as seen by the API: the driver rings and the device
// model behind them.
type Network struct {
	Driver *e1000.Driver
	Device *nic.Device
}

// Handlers contains all HTTP handlers
type Handlers struct {
	kernel  *kernel.Kernel
	net     *Network
	metrics *monitoring.Metrics
	log     *logging.Logger
}

// NewHandlers creates a new handler set. net may be nil when the machine
// has no NIC.
func NewHandlers(k *kernel.Kernel, net *Network, metrics *monitoring.Metrics, log *logging.Logger) *Handlers {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handlers{kernel: k, net: net, metrics: metrics, log: log}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	v1.GET("/envs", h.ListEnvs)
	v1.GET("/envs/:id", h.GetEnv)
	v1.GET("/envs/:id/mappings", h.GetMappings)
	v1.DELETE("/envs/:id", h.DestroyEnv)
	v1.GET("/mem", h.GetMem)
	v1.GET("/net", h.GetNet)
	v1.POST("/net/inject", h.InjectFrame)
	v1.GET("/metrics", h.GetMetrics)

	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{})))
	}
	r.GET("/ws/console", h.Console)
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	mem := h.kernel.MemStats()
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"boot_id":        h.kernel.BootID().String(),
		"uptime_seconds": h.kernel.Uptime().Seconds(),
		"envs":           len(h.kernel.Envs()),
		"pages_free":     mem.Free,
		"nic":            h.net != nil,
	})
}

// GetMetrics returns the metric counters as JSON.
func (h *Handlers) GetMetrics(c *gin.Context) {
	if h.metrics == nil {
		fail(c, http.StatusServiceUnavailable, "metrics disabled")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"metrics": h.metrics.GetSnapshot(),
	})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   msg,
	})
}
