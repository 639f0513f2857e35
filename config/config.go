package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	coretypes "github.com/projecteru2/core/types"
)

// Config holds global container configuration.
type Config struct {
	// RootDir is the base directory for persisted container state (the
	// database snapshot file and its flock sidecar).
	RootDir string `json:"root_dir"`
	// PoolSize caps how many modules of the same start level a framework
	// start-level ramp-up starts concurrently; the refresh and start-level
	// dispatchers themselves are single-consumer. Defaults to
	// runtime.NumCPU() if zero.
	PoolSize int `json:"pool_size"`
	// LocationLockTimeout bounds how long install/update wait to acquire
	// a location or name lock (spec §4.2 step 1: "5-second timeout").
	LocationLockTimeout time.Duration `json:"location_lock_timeout"`
	// AutoStartResolved preserves the reference implementation's
	// questionable-but-documented behavior of auto-starting every newly
	// resolved module after a resolve (spec §9 open question: exposed as
	// a flag rather than silently dropped or silently kept).
	AutoStartResolved bool `json:"auto_start_resolved"`
	// BeginningStartLevel answers getProperty("framework.beginning.startlevel")
	// (spec §6), the only configuration key the core itself reads.
	BeginningStartLevel int `json:"beginning_start_level"`
	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log"`
}

const defaultLocationLockTimeout = 5 * time.Second

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RootDir:             "/var/lib/modwire",
		PoolSize:            runtime.NumCPU(),
		LocationLockTimeout: defaultLocationLockTimeout,
		AutoStartResolved:   true,
		BeginningStartLevel: 1,
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from file, falling back to defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // config path from CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = runtime.NumCPU()
	}
	if c.LocationLockTimeout <= 0 {
		c.LocationLockTimeout = defaultLocationLockTimeout
	}
	if c.BeginningStartLevel <= 0 {
		c.BeginningStartLevel = 1
	}
}

// EnsureDirs creates the directories c needs and returns c for chaining,
// mirroring the teacher's EnsureDirs(conf) step in cmd's initConfig.
func EnsureDirs(c *Config) (*Config, error) {
	c.applyDefaults()
	if err := os.MkdirAll(c.DBDir(), 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", c.DBDir(), err)
	}
	return c, nil
}

// GetProperty answers the Adaptor contract's getProperty(key) (spec §6);
// the core only ever asks for "framework.beginning.startlevel".
func (c *Config) GetProperty(key string) (string, bool) {
	if key == "framework.beginning.startlevel" {
		return fmt.Sprintf("%d", c.BeginningStartLevel), true
	}
	return "", false
}

// Derived path helpers.

func (c *Config) DBDir() string           { return filepath.Join(c.RootDir, "db") }
func (c *Config) SnapshotFile() string    { return filepath.Join(c.DBDir(), "modules.json") }
func (c *Config) SnapshotLockFile() string { return filepath.Join(c.DBDir(), "modules.lock") }
