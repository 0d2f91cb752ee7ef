package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. Each instance owns its registry so
// several kernels can coexist in one process. All methods are no-ops on a
// nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Memory metrics
	PagesFree  prometheus.Gauge
	PagesTotal prometheus.Gauge

	// Environment metrics
	Envs            *prometheus.GaugeVec
	EnvsCreated     prometheus.Counter
	EnvsDestroyed   *prometheus.CounterVec
	ContextSwitches prometheus.Counter

	// Syscall metrics
	Syscalls   *prometheus.CounterVec
	PageFaults *prometheus.CounterVec
	IPCSends   *prometheus.CounterVec

	// NIC metrics
	NICPackets     *prometheus.CounterVec
	NICBytes       *prometheus.CounterVec
	NICQueueEvents *prometheus.CounterVec

	// Console metrics
	WSConnections prometheus.Gauge
	ConsoleBytes  prometheus.Counter

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds running totals for the JSON API.
type Snapshot struct {
	Syscalls      int64 `json:"syscalls"`
	SyscallErrors int64 `json:"syscall_errors"`
	PageFaults    int64 `json:"page_faults"`
	EnvsCreated   int64 `json:"envs_created"`
	EnvsDestroyed int64 `json:"envs_destroyed"`
	PacketsTx     int64 `json:"packets_tx"`
	PacketsRx     int64 `json:"packets_rx"`
	HTTPRequests  int64 `json:"http_requests"`
}

// NewMetrics creates a metrics collector with a fresh registry that also
// carries the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWith(reg)
}

// NewMetricsWith registers the kernel metrics on reg.
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_http_requests_total",
				Help: "Total number of introspection API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernel_http_request_duration_seconds",
				Help:    "Introspection API request duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"method", "path"},
		),

		PagesFree: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernel_pages_free",
				Help: "Physical pages on the free list",
			},
		),
		PagesTotal: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernel_pages_total",
				Help: "Physical pages installed",
			},
		),

		Envs: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kernel_envs",
				Help: "Environments by run state",
			},
			[]string{"status"},
		),
		EnvsCreated: f.NewCounter(
			prometheus.CounterOpts{
				Name: "kernel_envs_created_total",
				Help: "Environments allocated",
			},
		),
		EnvsDestroyed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_env_destroyed_total",
				Help: "Environments destroyed, by reason",
			},
			[]string{"reason"},
		),
		ContextSwitches: f.NewCounter(
			prometheus.CounterOpts{
				Name: "kernel_context_switches_total",
				Help: "Times the scheduler handed the CPU to an environment",
			},
		),

		Syscalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_syscalls_total",
				Help: "System calls by name and result",
			},
			[]string{"syscall", "result"},
		),
		PageFaults: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_page_faults_total",
				Help: "User page faults by outcome",
			},
			[]string{"outcome"},
		),
		IPCSends: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_ipc_sends_total",
				Help: "IPC send attempts by result",
			},
			[]string{"result"},
		),

		NICPackets: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_nic_packets_total",
				Help: "Packets moved through the descriptor rings",
			},
			[]string{"direction"},
		),
		NICBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_nic_bytes_total",
				Help: "Bytes moved through the descriptor rings",
			},
			[]string{"direction"},
		),
		NICQueueEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_nic_queue_events_total",
				Help: "Ring full and ring empty observations",
			},
			[]string{"event"},
		),

		WSConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernel_ws_connections",
				Help: "Open console WebSocket connections",
			},
		),
		ConsoleBytes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "kernel_console_bytes_total",
				Help: "Bytes written to the console by environments",
			},
		),
	}
	m.Uptime = f.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "kernel_uptime_seconds",
			Help: "Kernel uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)
	return m
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an introspection API request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.HTTPRequests++
	m.mu.Unlock()
}

// RecordSyscall records one system call and its result code name
func (m *Metrics) RecordSyscall(name, result string) {
	if m == nil {
		return
	}
	m.Syscalls.WithLabelValues(name, result).Inc()
	m.mu.Lock()
	m.snapshot.Syscalls++
	if result != "ok" {
		m.snapshot.SyscallErrors++
	}
	m.mu.Unlock()
}

// RecordPageFault records a user page fault outcome ("upcall", "killed")
func (m *Metrics) RecordPageFault(outcome string) {
	if m == nil {
		return
	}
	m.PageFaults.WithLabelValues(outcome).Inc()
	m.mu.Lock()
	m.snapshot.PageFaults++
	m.mu.Unlock()
}

// RecordIPCSend records an IPC send attempt
func (m *Metrics) RecordIPCSend(result string) {
	if m == nil {
		return
	}
	m.IPCSends.WithLabelValues(result).Inc()
}

// RecordEnvCreated counts a new environment
func (m *Metrics) RecordEnvCreated() {
	if m == nil {
		return
	}
	m.EnvsCreated.Inc()
	m.mu.Lock()
	m.snapshot.EnvsCreated++
	m.mu.Unlock()
}

// RecordEnvDestroyed counts a destroyed environment
func (m *Metrics) RecordEnvDestroyed(reason string) {
	if m == nil {
		return
	}
	m.EnvsDestroyed.WithLabelValues(reason).Inc()
	m.mu.Lock()
	m.snapshot.EnvsDestroyed++
	m.mu.Unlock()
}

// IncContextSwitches counts a scheduler hand-off
func (m *Metrics) IncContextSwitches() {
	if m == nil {
		return
	}
	m.ContextSwitches.Inc()
}

// SetEnvs publishes the number of environments per status
func (m *Metrics) SetEnvs(byStatus map[string]int) {
	if m == nil {
		return
	}
	for status, n := range byStatus {
		m.Envs.WithLabelValues(status).Set(float64(n))
	}
}

// SetPages publishes physical memory usage
func (m *Metrics) SetPages(free, total int) {
	if m == nil {
		return
	}
	m.PagesFree.Set(float64(free))
	m.PagesTotal.Set(float64(total))
}

// RecordPacket records a packet crossing the rings ("tx" or "rx")
func (m *Metrics) RecordPacket(direction string, size int) {
	if m == nil {
		return
	}
	m.NICPackets.WithLabelValues(direction).Inc()
	m.NICBytes.WithLabelValues(direction).Add(float64(size))
	m.mu.Lock()
	if direction == "tx" {
		m.snapshot.PacketsTx++
	} else {
		m.snapshot.PacketsRx++
	}
	m.mu.Unlock()
}

// RecordQueueEvent records a steady-state ring condition ("full", "empty")
func (m *Metrics) RecordQueueEvent(event string) {
	if m == nil {
		return
	}
	m.NICQueueEvents.WithLabelValues(event).Inc()
}

// AddConsoleBytes counts console output
func (m *Metrics) AddConsoleBytes(n int) {
	if m == nil {
		return
	}
	m.ConsoleBytes.Add(float64(n))
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// GetSnapshot returns the running totals
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// StartTime is when the collector was created
func (m *Metrics) StartTime() time.Time {
	if m == nil {
		return time.Time{}
	}
	return m.startTime
}
