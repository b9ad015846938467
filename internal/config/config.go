// Package config loads the YAML configuration for the sluiced daemon.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Handler maps a payload type to an external command honoring the
// exit-code contract (0 = success).
type Handler struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Config is the complete daemon configuration. Durations are carried as
// integer fields with explicit units; the accessor methods convert them.
type Config struct {
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Queue struct {
		Name  string `yaml:"name"`
		Group string `yaml:"group"`
	} `yaml:"queue"`

	Worker struct {
		Consumer         string `yaml:"consumer"`
		Concurrency      int    `yaml:"concurrency"`
		ClaimBlockMs     int    `yaml:"claim_block_ms"`
		StatusTTLSeconds int    `yaml:"status_ttl_seconds"`
	} `yaml:"worker"`

	Janitor struct {
		IntervalMs    int    `yaml:"interval_ms"`
		MaxIdleMs     int    `yaml:"max_idle_ms"`
		Policy        string `yaml:"policy"` // drop | requeue
		MaxDeliveries int64  `yaml:"max_deliveries"`
		Consumer      string `yaml:"consumer"`
	} `yaml:"janitor"`

	Orchestrator struct {
		MaxDocs        int `yaml:"max_docs"`
		AwaitTimeoutMs int `yaml:"await_timeout_ms"`
		PollMs         int `yaml:"poll_ms"`
	} `yaml:"orchestrator"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	// Handlers maps payload types to external worker commands.
	Handlers map[string]Handler `yaml:"handlers"`
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	c := &Config{}
	c.Redis.Addr = "127.0.0.1:6379"
	c.Queue.Name = "tasks"
	c.Queue.Group = "workers"
	c.Worker.Concurrency = 4
	c.Worker.ClaimBlockMs = 5000
	c.Worker.StatusTTLSeconds = 3600
	c.Janitor.IntervalMs = 30000
	c.Janitor.MaxIdleMs = 300000
	c.Janitor.Policy = "requeue"
	c.Janitor.MaxDeliveries = 5
	c.Janitor.Consumer = "sluice-janitor"
	c.Orchestrator.MaxDocs = 20
	c.Orchestrator.AwaitTimeoutMs = 300000
	c.Orchestrator.PollMs = 100
	c.Metrics.Port = 9090
	return c
}

// Load reads and validates the config file at path. Fields absent from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	if c.Queue.Name == "" {
		return fmt.Errorf("config: queue.name is required")
	}
	if c.Queue.Group == "" {
		return fmt.Errorf("config: queue.group is required")
	}
	if c.Worker.Concurrency < 0 {
		return fmt.Errorf("config: worker.concurrency must not be negative")
	}
	switch c.Janitor.Policy {
	case "drop", "requeue":
	default:
		return fmt.Errorf("config: janitor.policy must be drop or requeue, got %q", c.Janitor.Policy)
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return fmt.Errorf("config: metrics.port must be positive when metrics are enabled")
	}
	for typ, h := range c.Handlers {
		if h.Command == "" {
			return fmt.Errorf("config: handlers.%s.command is required", typ)
		}
	}
	return nil
}

// ClaimBlock returns the bound on a single blocking claim.
func (c *Config) ClaimBlock() time.Duration {
	return time.Duration(c.Worker.ClaimBlockMs) * time.Millisecond
}

// StatusTTL returns the expiration applied to per-task status keys.
func (c *Config) StatusTTL() time.Duration {
	return time.Duration(c.Worker.StatusTTLSeconds) * time.Second
}

// JanitorInterval returns the sweep interval.
func (c *Config) JanitorInterval() time.Duration {
	return time.Duration(c.Janitor.IntervalMs) * time.Millisecond
}

// MaxIdle returns the idle threshold beyond which pending entries are
// reclaimed.
func (c *Config) MaxIdle() time.Duration {
	return time.Duration(c.Janitor.MaxIdleMs) * time.Millisecond
}

// AwaitTimeout returns the fan-in timeout for orchestrated runs.
func (c *Config) AwaitTimeout() time.Duration {
	return time.Duration(c.Orchestrator.AwaitTimeoutMs) * time.Millisecond
}

// Poll returns the orchestrator's done-stream poll interval.
func (c *Config) Poll() time.Duration {
	return time.Duration(c.Orchestrator.PollMs) * time.Millisecond
}
