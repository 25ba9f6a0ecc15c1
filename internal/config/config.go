// Package config loads and validates the settings a cubdb instance starts
// with: where its file lives, the fan-out of its btree nodes, the
// auto-compaction policy, and how it logs. It mirrors the teacher's
// yaml-tagged Config/Default() shape, trimmed to a single engine instead of
// a cluster node.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"cubdb/pkg/dberrors"
)

// Config is the root configuration for one cubdb instance.
type Config struct {
	DataDir     string            `yaml:"data_dir"`
	Btree       BtreeConfig       `yaml:"btree"`
	AutoCompact AutoCompactConfig `yaml:"auto_compact"`
	Logger      LoggerConfig      `yaml:"logger"`
}

// BtreeConfig controls the shape of persisted nodes.
type BtreeConfig struct {
	// Order is the maximum number of children a branch node may hold.
	// Inserts split leaves that grow past Order-1 entries; compaction may
	// write leaves of up to Order entries. Must be >= 3.
	Order int `yaml:"order"`
}

// AutoCompactConfig is the heuristic the coordinator evaluates after every
// write to decide whether to kick off a background compaction.
type AutoCompactConfig struct {
	Enabled       bool    `yaml:"enabled"`
	MinWrites     int     `yaml:"min_writes_since_compaction"`
	MinDirtFactor float64 `yaml:"min_dirt_factor"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no config file is present.
func Default() Config {
	return Config{
		DataDir: "./data",
		Btree: BtreeConfig{
			Order: 64,
		},
		AutoCompact: AutoCompactConfig{
			Enabled:       true,
			MinWrites:     100,
			MinDirtFactor: 0.25,
		},
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
	}
}

// Load reads path as YAML, falling back to Default when the file does not
// exist. A present-but-malformed file is always an error.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, dberrors.NewIOError(err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, &dberrors.InvalidConfigError{Reason: fmt.Sprintf("parsing %s: %v", path, err)}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first structurally invalid field it finds.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return &dberrors.InvalidConfigError{Reason: "data_dir must not be empty"}
	}
	if c.Btree.Order < 3 {
		return &dberrors.InvalidConfigError{Reason: "btree.order must be >= 3"}
	}
	if c.AutoCompact.MinWrites < 0 {
		return &dberrors.InvalidConfigError{Reason: "auto_compact.min_writes_since_compaction must be >= 0"}
	}
	if c.AutoCompact.MinDirtFactor < 0 || c.AutoCompact.MinDirtFactor > 1 {
		return &dberrors.InvalidConfigError{Reason: "auto_compact.min_dirt_factor must be within [0, 1]"}
	}
	switch c.Logger.Level {
	case "DEBUG", "INFO", "WARN", "ERROR", "debug", "info", "warn", "error":
	default:
		return &dberrors.InvalidConfigError{Reason: "logger.level must be one of DEBUG, INFO, WARN, ERROR"}
	}
	return nil
}
