// Package config defines environment-specific settings for the Printer Proxy
// and the on-disk printers.yaml registry format.
package config

import (
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Build variables, injected at compile time
var (
	BuildEnvironment = "local"
	BuildDate        = "unknown"
	BuildTime        = "unknown"
	// ServiceName is used for logging and as part of the log file path.
	ServiceName = "PrinterProxy"
	// AdminTokenHashB64 is a base64-encoded bcrypt hash of the admin token,
	// injected via ldflags. If empty, printer management endpoints are
	// disabled unless ADMIN_TOKEN_HASH is set in the environment.
	AdminTokenHashB64 = ""
	// ServerPort is the default port for the service, can be overridden by
	// environment config.
	ServerPort = "8080"
)

// BackendKindTCP9100 is the only backend kind currently supported: a raw TCP
// socket, conventionally on port 9100.
const BackendKindTCP9100 = "tcp9100"

// Backend describes how to reach a printer on the wire.
type Backend struct {
	Kind string `yaml:"type" json:"type"`
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// Addr returns the dial target for a TCP backend.
func (b Backend) Addr() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// Validate rejects backends the proxy cannot talk to.
func (b Backend) Validate() error {
	if b.Kind != BackendKindTCP9100 {
		return fmt.Errorf("unsupported backend type %q", b.Kind)
	}
	if b.Host == "" {
		return fmt.Errorf("backend host is required")
	}
	if b.Port <= 0 || b.Port > 65535 {
		return fmt.Errorf("backend port %d out of range", b.Port)
	}
	return nil
}

// Printer is one printers.yaml entry.
type Printer struct {
	Name    string  `yaml:"name" json:"name"`
	ID      string  `yaml:"id" json:"id"`
	Backend Backend `yaml:"backend" json:"backend"`
}

// Printers is the printers.yaml document.
type Printers struct {
	Printers []Printer `yaml:"printers"`
}

// Validate checks every entry and rejects duplicate ids.
func (p *Printers) Validate() error {
	seen := make(map[string]bool, len(p.Printers))
	for i, pr := range p.Printers {
		if pr.ID == "" {
			return fmt.Errorf("printer %d: id is required", i)
		}
		if seen[pr.ID] {
			return fmt.Errorf("duplicate printer id %q", pr.ID)
		}
		seen[pr.ID] = true
		if err := pr.Backend.Validate(); err != nil {
			return fmt.Errorf("printer %q: %w", pr.ID, err)
		}
	}
	return nil
}

// PrintersPath returns the registry file location, honoring PRINTERS_CONFIG.
func PrintersPath() string {
	if p := os.Getenv("PRINTERS_CONFIG"); p != "" {
		return p
	}
	return "printers.yaml"
}

// LoadPrinters reads and validates the printers.yaml registry file.
func LoadPrinters(path string) (*Printers, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("read printers config: %w", err)
	}

	var cfg Printers
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse printers config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid printers config: %w", err)
	}
	return &cfg, nil
}

// SavePrinters writes the registry file atomically: serialize to a temp file
// in the same directory, then rename over the original.
func SavePrinters(path string, cfg *Printers) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid printers config: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serialize printers config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write temp printers config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save printers config: %w", err)
	}
	return nil
}

// Environment holds environment-specific settings
type Environment struct {
	// Identification
	Name        string
	ServiceName string

	// Network
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// WebSocket job queue
	QueueCapacity int

	// Logging
	Verbose bool

	// Connection pool
	MaxPoolSize     int
	ConnMaxAge      time.Duration
	ConnIdleTimeout time.Duration
	AcquireTimeout  time.Duration

	// Health checks
	HealthTTL        time.Duration
	ProbeTimeout     time.Duration
	BulkProbeTimeout time.Duration
	ReapInterval     time.Duration
}

// LogPath returns the full log file path for this environment.
// Uses the convention: <stateDir>/<ServiceName>/<ServiceName>.log
func (e Environment) LogPath(stateDir string) string {
	return filepath.Join(stateDir, e.ServiceName, e.ServiceName+".log")
}

// environments defines available deployment configurations
var environments = map[string]Environment{
	"remote": {
		Name:             "REMOTE",
		ServiceName:      ServiceName,
		ListenAddr:       "0.0.0.0:" + ServerPort,
		ReadTimeout:      15 * time.Second,
		WriteTimeout:     30 * time.Second,
		IdleTimeout:      60 * time.Second,
		QueueCapacity:    100,
		Verbose:          false,
		MaxPoolSize:      5,
		ConnMaxAge:       5 * time.Minute,
		ConnIdleTimeout:  time.Minute,
		AcquireTimeout:   5 * time.Second,
		HealthTTL:        30 * time.Second,
		ProbeTimeout:     2 * time.Second,
		BulkProbeTimeout: 500 * time.Millisecond,
		ReapInterval:     time.Minute,
	},
	"local": {
		Name:             "LOCAL",
		ServiceName:      ServiceName,
		ListenAddr:       "localhost:" + ServerPort,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     30 * time.Second,
		IdleTimeout:      120 * time.Second,
		QueueCapacity:    50,
		Verbose:          true,
		MaxPoolSize:      5,
		ConnMaxAge:       5 * time.Minute,
		ConnIdleTimeout:  time.Minute,
		AcquireTimeout:   5 * time.Second,
		HealthTTL:        30 * time.Second,
		ProbeTimeout:     2 * time.Second,
		BulkProbeTimeout: 500 * time.Millisecond,
		ReapInterval:     time.Minute,
	},
}

// GetEnvironment returns config for the specified environment.
func GetEnvironment(env string) Environment {
	cfg, ok := environments[env]
	if !ok {
		log.Printf("[!] Unknown environment '%s', defaulting to 'local'", env)
		cfg = environments["local"]
	}

	// LISTEN_ADDR overrides the compiled-in default
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}

	return cfg
}
