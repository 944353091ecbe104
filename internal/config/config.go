package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global        GlobalConfig        `yaml:"global"`
	ObjectManager ObjectManagerConfig `yaml:"object_manager"`
	Cache         CacheConfig         `yaml:"cache"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	GC            GCConfig            `yaml:"gc"`
	Storage       StorageConfig       `yaml:"storage"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	LogFile        string `yaml:"log_file"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsPort    int    `yaml:"metrics_port"`
}

// ObjectManagerConfig represents object manager settings
type ObjectManagerConfig struct {
	// Paranoid commits every written object before it is released
	Paranoid         bool `yaml:"paranoid"`
	MaxCommitSize    int  `yaml:"max_commit_size"`
	DeleteBatchSize  int  `yaml:"delete_batch_size"`
	MaxLookupObjects int  `yaml:"max_lookup_objects"`
}

// CacheConfig represents eviction settings
type CacheConfig struct {
	EvictionPolicy     string        `yaml:"eviction_policy"`
	MaxObjects         int           `yaml:"max_objects"`
	EvictionInterval   time.Duration `yaml:"eviction_interval"`
	EvictionPercentage int           `yaml:"eviction_percentage"`
}

// GatewayConfig represents fault/flush worker settings
type GatewayConfig struct {
	FaultWorkers int         `yaml:"fault_workers"`
	FlushWorkers int         `yaml:"flush_workers"`
	QueueSize    int         `yaml:"queue_size"`
	Retry        RetryConfig `yaml:"retry"`
}

// RetryConfig represents store retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// GCConfig represents collector settings
type GCConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// StorageConfig selects and configures the store backend
type StorageConfig struct {
	Backend string       `yaml:"backend"`
	Pebble  PebbleConfig `yaml:"pebble"`
	S3      S3Config     `yaml:"s3"`
}

// PebbleConfig represents the local disk store
type PebbleConfig struct {
	Directory            string `yaml:"directory"`
	Sync                 bool   `yaml:"sync"`
	Compression          bool   `yaml:"compression"`
	CompressionThreshold string `yaml:"compression_threshold"`
}

// S3Config represents the object storage store
type S3Config struct {
	Bucket         string            `yaml:"bucket"`
	Region         string            `yaml:"region"`
	Endpoint       string            `yaml:"endpoint"`
	Prefix         string            `yaml:"prefix"`
	ForcePathStyle bool              `yaml:"force_path_style"`
	Compression    bool              `yaml:"compression"`
	Credentials    CredentialsConfig `yaml:"credentials"`
}

// CredentialsConfig holds optional static credentials
type CredentialsConfig struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Supported storage backends
const (
	BackendMemory = "memory"
	BackendPebble = "pebble"
	BackendS3     = "s3"
)

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:       "INFO",
			LogFormat:      "json",
			MetricsEnabled: true,
			MetricsPort:    9464,
		},
		ObjectManager: ObjectManagerConfig{
			Paranoid:         false,
			MaxCommitSize:    500,
			DeleteBatchSize:  5000,
			MaxLookupObjects: 5000,
		},
		Cache: CacheConfig{
			EvictionPolicy:     "lru",
			MaxObjects:         100000,
			EvictionInterval:   5 * time.Second,
			EvictionPercentage: 10,
		},
		Gateway: GatewayConfig{
			FaultWorkers: 8,
			FlushWorkers: 4,
			QueueSize:    1024,
			Retry: RetryConfig{
				MaxAttempts: 4,
				BaseDelay:   50 * time.Millisecond,
				MaxDelay:    5 * time.Second,
			},
		},
		GC: GCConfig{
			Enabled:  true,
			Interval: time.Hour,
		},
		Storage: StorageConfig{
			Backend: BackendPebble,
			Pebble: PebbleConfig{
				Directory:            "/var/lib/objcache",
				Sync:                 true,
				Compression:          true,
				CompressionThreshold: "4KB",
			},
			S3: S3Config{
				Region: "us-east-1",
				Prefix: "objcache/",
			},
		},
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

// LoadFromEnv loads configuration from OBJCACHE_* environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("OBJCACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("OBJCACHE_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := os.Getenv("OBJCACHE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("OBJCACHE_METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid OBJCACHE_METRICS_PORT: %w", err)
		}
		c.Global.MetricsPort = port
	}

	// Object manager settings
	if val := os.Getenv("OBJCACHE_PARANOID"); val != "" {
		c.ObjectManager.Paranoid = strings.ToLower(val) == "true"
	}

	// Cache settings
	if val := os.Getenv("OBJCACHE_EVICTION_POLICY"); val != "" {
		c.Cache.EvictionPolicy = val
	}
	if val := os.Getenv("OBJCACHE_MAX_OBJECTS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid OBJCACHE_MAX_OBJECTS: %w", err)
		}
		c.Cache.MaxObjects = n
	}
	if val := os.Getenv("OBJCACHE_EVICTION_INTERVAL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid OBJCACHE_EVICTION_INTERVAL: %w", err)
		}
		c.Cache.EvictionInterval = d
	}

	// GC settings
	if val := os.Getenv("OBJCACHE_GC_ENABLED"); val != "" {
		c.GC.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("OBJCACHE_GC_INTERVAL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid OBJCACHE_GC_INTERVAL: %w", err)
		}
		c.GC.Interval = d
	}

	// Storage settings
	if val := os.Getenv("OBJCACHE_STORAGE_BACKEND"); val != "" {
		c.Storage.Backend = val
	}
	if val := os.Getenv("OBJCACHE_PEBBLE_DIR"); val != "" {
		c.Storage.Pebble.Directory = val
	}
	if val := os.Getenv("OBJCACHE_S3_BUCKET"); val != "" {
		c.Storage.S3.Bucket = val
	}
	if val := os.Getenv("OBJCACHE_S3_REGION"); val != "" {
		c.Storage.S3.Region = val
	}
	if val := os.Getenv("OBJCACHE_S3_ENDPOINT"); val != "" {
		c.Storage.S3.Endpoint = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Marshal renders the configuration as YAML
func (c *Configuration) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.Global.LogLevel)) {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if c.Global.LogFormat != "" && !contains([]string{"json", "console"}, c.Global.LogFormat) {
		return fmt.Errorf("invalid log_format: %s", c.Global.LogFormat)
	}
	if c.Global.MetricsEnabled && (c.Global.MetricsPort <= 0 || c.Global.MetricsPort > 65535) {
		return fmt.Errorf("metrics_port out of range: %d", c.Global.MetricsPort)
	}

	if c.ObjectManager.MaxCommitSize <= 0 {
		return fmt.Errorf("max_commit_size must be greater than 0")
	}
	if c.ObjectManager.DeleteBatchSize <= 0 {
		return fmt.Errorf("delete_batch_size must be greater than 0")
	}
	if c.ObjectManager.MaxLookupObjects <= 0 {
		return fmt.Errorf("max_lookup_objects must be greater than 0")
	}

	if !contains([]string{"lru", "lfu"}, strings.ToLower(c.Cache.EvictionPolicy)) {
		return fmt.Errorf("invalid eviction_policy: %s (must be one of: lru, lfu)", c.Cache.EvictionPolicy)
	}
	if c.Cache.MaxObjects <= 0 {
		return fmt.Errorf("max_objects must be greater than 0")
	}
	if c.Cache.EvictionPercentage < 0 || c.Cache.EvictionPercentage > 100 {
		return fmt.Errorf("eviction_percentage must be between 0 and 100")
	}

	if c.Gateway.FaultWorkers <= 0 || c.Gateway.FlushWorkers <= 0 {
		return fmt.Errorf("fault_workers and flush_workers must be greater than 0")
	}
	if c.Gateway.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be greater than 0")
	}

	if c.GC.Enabled && c.GC.Interval <= 0 {
		return fmt.Errorf("gc interval must be greater than 0 when gc is enabled")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPebble:
		if c.Storage.Pebble.Directory == "" {
			return fmt.Errorf("pebble directory is required")
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket is required")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be one of: %s, %s, %s)",
			c.Storage.Backend, BackendMemory, BackendPebble, BackendS3)
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
