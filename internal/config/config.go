package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Store    StoreConfig    `json:"store" yaml:"store"`
	Delivery DeliveryConfig `json:"delivery" yaml:"delivery"`
	Log      LogConfig      `json:"log" yaml:"log"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// StoreConfig configures the pebble-backed message and segment stores.
// An empty DataDir runs the engine fully in memory.
type StoreConfig struct {
	DataDir         string `json:"dataDir" yaml:"dataDir"`
	Fsync           string `json:"fsync" yaml:"fsync"`
	FsyncIntervalMs int    `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`
}

// DeliveryConfig captures the delivery engine tunables.
type DeliveryConfig struct {
	// SegmentSize is the number of identifiers covered by one bitset segment.
	SegmentSize int `json:"segmentSize" yaml:"segmentSize"`
	// DefaultReceiveMaximum is used when a subscription asks for no explicit credit.
	DefaultReceiveMaximum int `json:"defaultReceiveMaximum" yaml:"defaultReceiveMaximum"`
	// SharedGroupCredit bounds the in-flight window of a whole shared group.
	SharedGroupCredit int `json:"sharedGroupCredit" yaml:"sharedGroupCredit"`
	// BrowserSliceMs is the wall-clock budget of one browser backfill pass.
	BrowserSliceMs int `json:"browserSliceMs" yaml:"browserSliceMs"`
	// RollbackPriorityIncrement raises a message's priority each time it is rolled back.
	RollbackPriorityIncrement int `json:"rollbackPriorityIncrement" yaml:"rollbackPriorityIncrement"`
	// MaxRedeliveries bounds rollbacks per identifier. 0 means unbounded.
	MaxRedeliveries int `json:"maxRedeliveries" yaml:"maxRedeliveries"`
}

// LogConfig selects the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig configures the prometheus collector.
type MetricsConfig struct {
	Namespace  string `json:"namespace" yaml:"namespace"`
	ListenAddr string `json:"listenAddr" yaml:"listenAddr"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Fsync:           "interval",
			FsyncIntervalMs: 5,
		},
		Delivery: DeliveryConfig{
			SegmentSize:           4096,
			DefaultReceiveMaximum: 1,
			SharedGroupCredit:     1024,
			BrowserSliceMs:        100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Namespace: "maps",
		},
	}
}

// BrowserSlice returns BrowserSliceMs as a duration.
func (d DeliveryConfig) BrowserSlice() time.Duration {
	return time.Duration(d.BrowserSliceMs) * time.Millisecond
}

// FsyncInterval returns FsyncIntervalMs as a duration.
func (s StoreConfig) FsyncInterval() time.Duration {
	return time.Duration(s.FsyncIntervalMs) * time.Millisecond
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	d := c.Delivery
	switch {
	case d.SegmentSize <= 0 || d.SegmentSize%64 != 0:
		return fmt.Errorf("config: delivery.segmentSize must be a positive multiple of 64, got %d", d.SegmentSize)
	case d.DefaultReceiveMaximum < 0:
		return errors.New("config: delivery.defaultReceiveMaximum must not be negative")
	case d.SharedGroupCredit <= 0:
		return errors.New("config: delivery.sharedGroupCredit must be positive")
	case d.BrowserSliceMs <= 0:
		return errors.New("config: delivery.browserSliceMs must be positive")
	case d.RollbackPriorityIncrement < 0:
		return errors.New("config: delivery.rollbackPriorityIncrement must not be negative")
	case d.MaxRedeliveries < 0:
		return errors.New("config: delivery.maxRedeliveries must not be negative")
	}
	switch c.Store.Fsync {
	case "", "always", "interval", "never":
	default:
		return fmt.Errorf("config: store.fsync must be always|interval|never, got %q", c.Store.Fsync)
	}
	return nil
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}
