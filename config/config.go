// Package config loads the YAML configuration for a
// worker pool.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/unixpickle/distvec/transport"
	"github.com/unixpickle/essentials"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

const (
	GoroutineTransport = "goroutine"
	ProcessTransport   = "process"
)

var transports = []string{GoroutineTransport, ProcessTransport}

// NetworkConfig simulates network conditions between the
// coordinator and goroutine workers.
type NetworkConfig struct {
	// MaxLatency bounds a random per-message latency.
	MaxLatency time.Duration `yaml:"max_latency"`

	// Rate is a per-destination bandwidth in bytes per
	// second. If zero, bandwidth is unlimited.
	Rate float64 `yaml:"rate"`
}

// Config describes a worker pool.
type Config struct {
	Workers   int    `yaml:"workers"`
	Transport string `yaml:"transport"`

	// WorkerCommand is the executable and arguments for
	// process workers.
	WorkerCommand []string `yaml:"worker_command"`

	LogLevel string        `yaml:"log_level"`
	Network  NetworkConfig `yaml:"network"`
}

// Default creates a Config with four goroutine workers.
func Default() *Config {
	return &Config{
		Workers:   4,
		Transport: GoroutineTransport,
		LogLevel:  "info",
	}
}

// Load reads a YAML file on top of Default and validates
// the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c := Default()
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks that the Config describes a usable
// pool.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if !essentials.Contains(transports, c.Transport) {
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Transport == ProcessTransport && len(c.WorkerCommand) == 0 {
		return errors.New("process transport requires worker_command")
	}
	if c.Network.MaxLatency < 0 || c.Network.Rate < 0 {
		return errors.New("network latency and rate must be non-negative")
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// NewNetwork creates the simulated network for goroutine
// workers.
func (c *Config) NewNetwork() transport.Network {
	if c.Network.Rate > 0 {
		return transport.NewOrderedNetwork(c.Network.Rate, c.Network.MaxLatency)
	} else if c.Network.MaxLatency > 0 {
		return transport.RandomNetwork{MaxLatency: c.Network.MaxLatency}
	}
	return transport.DirectNetwork{}
}

// NewSpawner creates the Spawner for the configured
// transport.
//
// The entry point is only used for goroutine workers.
func (c *Config) NewSpawner(entry func(t transport.Transport)) transport.Spawner {
	if c.Transport == ProcessTransport {
		return &transport.ProcessSpawner{Path: c.WorkerCommand[0], Args: c.WorkerCommand[1:]}
	}
	return &transport.GoSpawner{Network: c.NewNetwork(), Entry: entry}
}

// Logger creates a logger at the configured level.
//
// Logs always go to standard error, since process workers
// use standard output for messages.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
