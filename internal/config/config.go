// Package config loads, validates and persists the application
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/hubfs/hubfs/internal/cache"
	"github.com/hubfs/hubfs/pkg/stream"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global   GlobalConfig             `yaml:"global"`
	Cache    cache.Config             `yaml:"cache"`
	Stream   StreamConfig             `yaml:"stream"`
	Network  NetworkConfig            `yaml:"network"`
	Storages map[string]StorageConfig `yaml:"storages"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// StreamConfig represents object I/O settings
type StreamConfig struct {
	ChunkSize  int `yaml:"chunk_size"`
	MaxWorkers int `yaml:"max_workers"`
}

// NetworkConfig represents shared network behavior
type NetworkConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	WaitOnRateLimit bool          `yaml:"wait_on_rate_limit"`
	RateLimitDelay  time.Duration `yaml:"rate_limit_delay"`
}

// StorageConfig represents one mounted storage. StorageParameters are
// passed through to the provider (token, endpoint overrides, ...).
type StorageConfig struct {
	StorageParameters map[string]string `yaml:"storage_parameters"`

	// Unsecure switches generated URLs from https to http.
	Unsecure bool `yaml:"unsecure"`

	// ExtraRoot registers an additional scheme alias for the storage.
	ExtraRoot string `yaml:"extra_root"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
		},
		Cache: cache.Config{
			Directory:   filepath.Join(cacheDir, "hubfs"),
			ShortExpiry: cache.DefaultShortExpiry,
			LongExpiry:  cache.DefaultLongExpiry,
		},
		Stream: StreamConfig{
			ChunkSize:  stream.DefaultChunkSize,
			MaxWorkers: stream.DefaultMaxWorkers,
		},
		Network: NetworkConfig{
			Timeout:         30 * time.Second,
			WaitOnRateLimit: true,
			RateLimitDelay:  60 * time.Second,
		},
		Storages: map[string]StorageConfig{},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from HUBFS_* environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("HUBFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("HUBFS_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}

	if val := os.Getenv("HUBFS_CACHE_DIR"); val != "" {
		c.Cache.Directory = val
	}
	if val := os.Getenv("HUBFS_CACHE_SHORT_EXPIRY"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.ShortExpiry = d
		}
	}
	if val := os.Getenv("HUBFS_CACHE_LONG_EXPIRY"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.LongExpiry = d
		}
	}

	if val := os.Getenv("HUBFS_CHUNK_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			c.Stream.ChunkSize = size
		}
	}
	if val := os.Getenv("HUBFS_MAX_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			c.Stream.MaxWorkers = workers
		}
	}

	if val := os.Getenv("HUBFS_NETWORK_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Network.Timeout = d
		}
	}
	if val := os.Getenv("HUBFS_WAIT_ON_RATE_LIMIT"); val != "" {
		c.Network.WaitOnRateLimit = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Stream.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be greater than 0")
	}
	if c.Stream.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be greater than 0")
	}
	if c.Cache.ShortExpiry <= 0 || c.Cache.LongExpiry <= 0 {
		return fmt.Errorf("cache expiries must be greater than 0")
	}
	if c.Cache.ShortExpiry > c.Cache.LongExpiry {
		return fmt.Errorf("short_expiry cannot exceed long_expiry")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	for name, storage := range c.Storages {
		if storage.ExtraRoot == name {
			return fmt.Errorf("storage %s: extra_root duplicates the storage name", name)
		}
	}

	return nil
}
