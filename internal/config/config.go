// Package config holds all vmbalance configuration: cluster generation
// parameters, input limits, solver service credentials, and the ambient
// server/storage/logging settings. Values come from defaults, then an
// optional YAML file, then environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all vmbalance configuration.
type Config struct {
	// Synthetic cluster generation
	Cluster ClusterConfig `yaml:"cluster"`

	// Bounds on user-supplied inputs
	Limits LimitsConfig `yaml:"limits"`

	// Remote hybrid solver service
	Solver SolverConfig `yaml:"solver"`

	// HTTP API server
	Server ServerConfig `yaml:"server"`

	// Run history storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ClusterConfig configures the synthetic inventory generator.
type ClusterConfig struct {
	CPUCap   int    `yaml:"cpu_cap"`
	CPUUnits string `yaml:"cpu_units"`
	MemCap   int    `yaml:"mem_cap"`
	MemUnits string `yaml:"mem_units"`
	Seed     int64  `yaml:"seed"` // 0 = new random inventory every run
}

// Limit bounds one integer input. Value is the default when the caller
// doesn't supply one.
type Limit struct {
	Min   int `yaml:"min"`
	Max   int `yaml:"max"`
	Step  int `yaml:"step"`
	Value int `yaml:"value"`
}

// Clamp forces v into [Min, Max].
func (l Limit) Clamp(v int) int {
	if v < l.Min {
		return l.Min
	}
	if v > l.Max {
		return l.Max
	}
	return v
}

// validate checks the limit's internal consistency.
func (l Limit) validate(name string) error {
	if l.Min > l.Max {
		return fmt.Errorf("%s limit: min %d exceeds max %d", name, l.Min, l.Max)
	}
	if l.Value < l.Min || l.Value > l.Max {
		return fmt.Errorf("%s limit: default %d outside [%d, %d]", name, l.Value, l.Min, l.Max)
	}
	if l.Step < 1 {
		return fmt.Errorf("%s limit: step must be positive, got %d", name, l.Step)
	}
	return nil
}

// LimitsConfig bounds the demo inputs the way the UI sliders do.
type LimitsConfig struct {
	VMs        Limit `yaml:"vms"`
	Hosts      Limit `yaml:"hosts"`
	SolverTime Limit `yaml:"solver_time"` // seconds
}

// SolverConfig configures the solver service client.
type SolverConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Label      string `yaml:"label"`
	MaxRetries int    `yaml:"max_retries"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Listen          string `yaml:"listen"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// StorageConfig configures run history storage.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Cluster: ClusterConfig{
			CPUCap:   167,
			CPUUnits: "GHz",
			MemCap:   1026,
			MemUnits: "GiB",
			Seed:     0,
		},

		Limits: LimitsConfig{
			VMs:        Limit{Min: 100, Max: 500, Step: 1, Value: 100},
			Hosts:      Limit{Min: 5, Max: 30, Step: 1, Value: 10},
			SolverTime: Limit{Min: 10, Max: 300, Step: 5, Value: 10},
		},

		Solver: SolverConfig{
			BaseURL:    "https://solver.example.com",
			Label:      "VM Balancing Demo",
			MaxRetries: 3,
		},

		Server: ServerConfig{
			Listen:          ":8050",
			ShutdownTimeout: "10s",
		},

		Storage: StorageConfig{
			DatabasePath: "data/vmbalance.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("SOLVER_API_KEY"); key != "" {
		c.Solver.APIKey = key
	}
	if url := os.Getenv("SOLVER_URL"); url != "" {
		c.Solver.BaseURL = url
	}
	if path := os.Getenv("VMBALANCE_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if addr := os.Getenv("VMBALANCE_ADDR"); addr != "" {
		c.Server.Listen = addr
	}
}

// SolveTimeLimit returns the default solver time limit as a duration.
func (c *Config) SolveTimeLimit() time.Duration {
	return time.Duration(c.Limits.SolverTime.Value) * time.Second
}

// ClampSolveTime clamps a requested time limit (in seconds) to the
// configured bounds and returns it as a duration.
func (c *Config) ClampSolveTime(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = c.Limits.SolverTime.Value
	}
	return time.Duration(c.Limits.SolverTime.Clamp(seconds)) * time.Second
}

// GetShutdownTimeout returns the server shutdown grace period.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Limits.VMs.validate("vms"); err != nil {
		return err
	}
	if err := c.Limits.Hosts.validate("hosts"); err != nil {
		return err
	}
	if err := c.Limits.SolverTime.validate("solver_time"); err != nil {
		return err
	}

	// Budgets are sampled below the caps, so both caps must comfortably
	// exceed the largest allowed host count.
	if c.Cluster.CPUCap <= c.Limits.Hosts.Max {
		return fmt.Errorf("cpu_cap %d must be larger than max hosts %d", c.Cluster.CPUCap, c.Limits.Hosts.Max)
	}
	if c.Cluster.MemCap <= c.Limits.Hosts.Max {
		return fmt.Errorf("mem_cap %d must be larger than max hosts %d", c.Cluster.MemCap, c.Limits.Hosts.Max)
	}

	if c.Solver.BaseURL == "" {
		return fmt.Errorf("solver base_url not configured")
	}
	return nil
}

// ValidateSolve validates the parts only needed when submitting to the
// solver service. Generation and balance reporting work without them.
func (c *Config) ValidateSolve() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Solver.APIKey == "" {
		return fmt.Errorf("solver API key not configured (set SOLVER_API_KEY or solver.api_key)")
	}
	return nil
}
