package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/e1000"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/hardware/nic"
)

// Config holds all kernel configuration.
type Config struct {
	Kernel    KernelConfig    `yaml:"kernel"`
	NIC       NICConfig       `yaml:"nic"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LogConfig       `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// KernelConfig sizes the machine and names the programs started at boot.
type KernelConfig struct {
	NEnv          int      `envconfig:"KERNEL_NENV" default:"1024" yaml:"nenv"`
	NPages        int      `envconfig:"KERNEL_NPAGES" default:"4096" yaml:"npages"`
	ReservedPages int      `envconfig:"KERNEL_RESERVED_PAGES" default:"256" yaml:"reserved_pages"`
	Programs      []string `envconfig:"KERNEL_PROGRAMS" yaml:"programs"`
}

// NICConfig describes the network card and its wire side.
type NICConfig struct {
	Enabled       bool          `envconfig:"NIC_ENABLED" default:"true" yaml:"enabled"`
	TxDescriptors int           `envconfig:"NIC_TX_DESCRIPTORS" default:"64" yaml:"tx_descriptors"`
	RxDescriptors int           `envconfig:"NIC_RX_DESCRIPTORS" default:"128" yaml:"rx_descriptors"`
	BufferSize    int           `envconfig:"NIC_BUFFER_SIZE" default:"2048" yaml:"buffer_size"`
	MAC           string        `envconfig:"NIC_MAC" default:"52:54:00:12:34:56" yaml:"mac"`
	LinkStatus    uint32        `envconfig:"NIC_LINK_STATUS" default:"0x80080783" yaml:"link_status"`
	Tick          time.Duration `envconfig:"NIC_TICK" default:"10ms" yaml:"tick"`
	BridgeListen  string        `envconfig:"NIC_BRIDGE_LISTEN" yaml:"bridge_listen"`
	BridgePeer    string        `envconfig:"NIC_BRIDGE_PEER" yaml:"bridge_peer"`
}

// ServerConfig holds the debug HTTP server configuration.
type ServerConfig struct {
	Enabled bool   `envconfig:"SERVER_ENABLED" default:"true" yaml:"enabled"`
	Addr    string `envconfig:"SERVER_ADDR" default:"127.0.0.1:8080" yaml:"addr"`

	// CORSOrigins restricts browser access to these origins; empty allows any.
	CORSOrigins []string `envconfig:"SERVER_CORS_ORIGINS" yaml:"cors_origins"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"rps"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile loads the environment configuration and overlays the YAML
// document at path. Keys present in the file win.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Kernel: KernelConfig{
			NEnv:          1024,
			NPages:        4096,
			ReservedPages: 256,
		},
		NIC: NICConfig{
			Enabled:       true,
			TxDescriptors: 64,
			RxDescriptors: 128,
			BufferSize:    2048,
			MAC:           "52:54:00:12:34:56",
			LinkStatus:    e1000.LinkUp,
			Tick:          10 * time.Millisecond,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8080",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// ringPages is the number of physical pages the NIC pins for its rings
// and buffers. It is 0 for a buffer size Validate rejects.
func (c NICConfig) ringPages() int {
	if c.BufferSize <= 0 || c.BufferSize > mem.PGSIZE || mem.PGSIZE%c.BufferSize != 0 {
		return 0
	}
	perPage := mem.PGSIZE / c.BufferSize
	bufs := (c.TxDescriptors + perPage - 1) / perPage
	bufs += (c.RxDescriptors + perPage - 1) / perPage
	return bufs + 2
}

// Validate reports every inconsistency in the configuration.
func (c *Config) Validate() error {
	var errs []error
	k := c.Kernel
	if k.NEnv <= 0 || k.NEnv&(k.NEnv-1) != 0 || k.NEnv > env.MaxEnv {
		errs = append(errs, fmt.Errorf("kernel.nenv %d must be a power of two no larger than %d", k.NEnv, env.MaxEnv))
	}
	need := k.ReservedPages + 1
	if c.NIC.Enabled {
		need += c.NIC.ringPages()
	}
	if k.ReservedPages < 1 || k.NPages <= need {
		errs = append(errs, fmt.Errorf("kernel.npages %d must exceed the %d reserved and ring pages", k.NPages, need))
	}

	n := c.NIC
	if n.Enabled {
		if n.BufferSize <= 0 || n.BufferSize > mem.PGSIZE || mem.PGSIZE%n.BufferSize != 0 {
			errs = append(errs, fmt.Errorf("nic.buffer_size %d must divide the page size", n.BufferSize))
		}
		for name, count := range map[string]int{"tx": n.TxDescriptors, "rx": n.RxDescriptors} {
			if count <= 0 || count*e1000.DescSize%128 != 0 {
				errs = append(errs, fmt.Errorf("nic.%s_descriptors %d: ring size must be a multiple of 128 bytes", name, count))
			}
		}
		if _, err := net.ParseMAC(n.MAC); err != nil {
			errs = append(errs, fmt.Errorf("nic.mac: %w", err))
		}
		if n.BridgePeer != "" && n.BridgeListen == "" {
			errs = append(errs, errors.New("nic.bridge_peer requires nic.bridge_listen"))
		}
	}

	for _, o := range c.Server.CORSOrigins {
		if !middleware.ValidOrigin(strings.TrimSpace(o)) {
			errs = append(errs, fmt.Errorf("server.cors_origins: %q is not an http(s) origin", o))
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit rps and burst must be positive"))
	}
	return errors.Join(errs...)
}

// Machine converts the kernel section.
func (c KernelConfig) Machine() kernel.Config {
	return kernel.Config{
		NEnv:          c.NEnv,
		NPages:        c.NPages,
		ReservedPages: c.ReservedPages,
	}
}

// Driver converts the NIC section to the driver configuration.
func (c NICConfig) Driver() (e1000.Config, error) {
	mac, err := net.ParseMAC(c.MAC)
	if err != nil {
		return e1000.Config{}, fmt.Errorf("nic.mac: %w", err)
	}
	return e1000.Config{
		TxDescriptors: c.TxDescriptors,
		RxDescriptors: c.RxDescriptors,
		BufferSize:    c.BufferSize,
		MAC:           mac,
		LinkStatus:    c.LinkStatus,
	}, nil
}

// Device converts the NIC section to the device model configuration.
func (c NICConfig) Device() nic.Config {
	d := nic.DefaultConfig()
	d.LinkStatus = c.LinkStatus
	if c.Tick > 0 {
		d.Tick = c.Tick
	}
	return d
}
