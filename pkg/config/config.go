// Package config loads the immutable Config snapshot every component is
// constructed with — the Go replacement for the source's global mutable
// CONF object (spec.md DESIGN NOTES §9).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Fairness mirrors the "fairness" option group from spec.md §6, field for
// field, with the same defaults.
type Fairness struct {
	ActiveMetric          string   `yaml:"active_metric"`
	AvailableMetrics      []string `yaml:"available_metrics"`
	RUICollectionInterval int      `yaml:"rui_collection_interval"`
	SupplyPollInterval    int      `yaml:"supply_poll_interval"`
	ResourceDecayFactor   float64  `yaml:"resource_decay_factor"`
	RUIStatsEnabled       bool     `yaml:"rui_stats_enabled"`
	RUIStatsPath          string   `yaml:"rui_stats_path"`
	MaxNetworkThroughput  int      `yaml:"max_network_throughput"`
	CPUAllocationRatio    float64  `yaml:"cpu_allocation_ratio"`
	RAMAllocationRatio    float64  `yaml:"ram_allocation_ratio"`
	DiskAllocationRatio   float64  `yaml:"disk_allocation_ratio"`
	NetworkInterface      string   `yaml:"network_interface"`
	ComputeHost           string   `yaml:"compute_host"`
}

// Config is the complete, immutable snapshot passed to every component at
// construction. It is never mutated after Load returns.
type Config struct {
	Fairness Fairness       `yaml:"fairness"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig configures the admin HTTP surface (pkg/httpapi).
type HTTPConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// LoggingConfig configures the logrus-backed ambient logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in defaults from spec.md §6.
func Default() Config {
	return Config{
		Fairness: Fairness{
			ActiveMetric:          "GreedinessMetric",
			AvailableMetrics:      []string{"GreedinessMetric"},
			RUICollectionInterval: 10,
			SupplyPollInterval:    10,
			ResourceDecayFactor:   0.5,
			RUIStatsEnabled:       false,
			RUIStatsPath:          "/var/log/nova/nova-fairness-rui-stats.csv",
			MaxNetworkThroughput:  1000,
			CPUAllocationRatio:    1.0,
			RAMAllocationRatio:    1.0,
			DiskAllocationRatio:   1.0,
			NetworkInterface:      "eth0",
		},
		HTTP:    HTTPConfig{ListenAddress: ":8080"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML config file at path and overlays it onto Default().
// A missing file is not an error — Default() is returned unchanged, the
// way a freshly installed agent runs with no config present yet.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if cfg.Fairness.ComputeHost == "" {
		h, err := os.Hostname()
		if err != nil {
			return Config{}, fmt.Errorf("config: compute_host not set and hostname lookup failed: %w", err)
		}
		cfg.Fairness.ComputeHost = h
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the out-of-range checks spec.md §7 names as
// configuration errors: they must be surfaced to the caller, not applied.
func (c Config) Validate() error {
	if c.Fairness.ResourceDecayFactor < 0 || c.Fairness.ResourceDecayFactor > 1 {
		return fmt.Errorf("config: resource_decay_factor %v out of range [0,1]", c.Fairness.ResourceDecayFactor)
	}
	return nil
}
