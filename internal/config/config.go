// Package config loads and validates the engine's YAML configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quilldb/peersync/internal/conflict"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Peer describes one remote node in the registry.
type Peer struct {
	NodeID   string `yaml:"node_id"`
	Location string `yaml:"location"`
	Priority int    `yaml:"priority"`
}

// Config is the full engine configuration.
type Config struct {
	NodeID    string `yaml:"node_id"`
	StorePath string `yaml:"store_path"`
	// Priority of this node for PriorityBased conflict resolution.
	Priority int `yaml:"priority"`

	Peers  []Peer   `yaml:"peers"`
	Tables []string `yaml:"tables"`

	SyncInterval Duration `yaml:"sync_interval"`
	Strategy     string   `yaml:"strategy"`
	MaxRetries   int      `yaml:"max_retries"`
	BatchSize    int      `yaml:"batch_size"`

	ProbeInterval Duration `yaml:"probe_interval"`
	ProbeTimeout  Duration `yaml:"probe_timeout"`

	BackupDir       string   `yaml:"backup_dir"`
	BackupInterval  Duration `yaml:"backup_interval"`
	BackupRetention int      `yaml:"backup_retention"`

	LogLevel string `yaml:"log_level"`
}

// Default returns a configuration with every optional field populated.
func Default() Config {
	return Config{
		StorePath:       "peersync.db",
		Tables:          []string{"records"},
		SyncInterval:    Duration(30 * time.Second),
		Strategy:        string(conflict.StrategyLatestWins),
		MaxRetries:      3,
		BatchSize:       100,
		ProbeInterval:   Duration(10 * time.Second),
		ProbeTimeout:    Duration(2 * time.Second),
		BackupDir:       "backups",
		BackupInterval:  Duration(time.Hour),
		BackupRetention: 5,
		LogLevel:        "info",
	}
}

// Load reads, decodes, and validates a YAML config file. Absent optional
// fields take their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path is required")
	}
	if len(c.Tables) == 0 {
		return fmt.Errorf("at least one table is required")
	}
	if _, err := conflict.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if c.ProbeInterval <= 0 || c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_interval and probe_timeout must be positive")
	}
	if c.BackupInterval <= 0 {
		return fmt.Errorf("backup_interval must be positive")
	}
	if c.BackupRetention < 0 {
		return fmt.Errorf("backup_retention must not be negative")
	}

	seen := map[string]bool{c.NodeID: true}
	for _, p := range c.Peers {
		if p.NodeID == "" || p.Location == "" {
			return fmt.Errorf("peer entries require node_id and location")
		}
		if seen[p.NodeID] {
			return fmt.Errorf("duplicate node_id %q", p.NodeID)
		}
		seen[p.NodeID] = true
	}
	return nil
}

// ResolutionStrategy returns the parsed conflict strategy. Call only after
// Validate has passed.
func (c Config) ResolutionStrategy() conflict.Strategy {
	s, err := conflict.ParseStrategy(c.Strategy)
	if err != nil {
		return conflict.StrategyLatestWins
	}
	return s
}
