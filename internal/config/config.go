// Package config loads the vetlot daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the daemon configuration.
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `yaml:"db_path"`
	// ListenAddr is the local control API address.
	ListenAddr string `yaml:"listen_addr"`
	// TickInterval is how often the reminder engine evaluates.
	TickInterval time.Duration `yaml:"tick_interval"`
	// Development switches the logger to human-readable output.
	Development bool `yaml:"development"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		DBPath:       filepath.Join(homeDir, ".vetlot", "vetlot.db"),
		ListenAddr:   "127.0.0.1:7521",
		TickInterval: time.Minute,
		Development:  false,
	}
}

// Load reads the configuration file at path. A missing file yields the
// defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	return cfg, nil
}

// LoadFromHome loads ~/.vetlot/config.yaml, falling back to defaults.
func LoadFromHome() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}
	return Load(filepath.Join(homeDir, ".vetlot", "config.yaml"))
}
