package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Store      StoreConfig      `yaml:"store"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Capability CapabilityConfig `yaml:"capability"`
	ChunkServer ChunkServerConfig `yaml:"chunk_server"`
	Federation FederationConfig `yaml:"federation"`
	Network    NetworkConfig    `yaml:"network"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Features   FeatureConfig    `yaml:"features"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
}

// StoreConfig configures the content-addressed object store.
type StoreConfig struct {
	// DataRoot is the base directory for all on-disk state (objects, temp, catalog).
	DataRoot string `yaml:"data_root"`
	// TempSubdir names the staging area under DataRoot used for two-phase writes.
	TempSubdir string `yaml:"temp_subdir"`
}

// CatalogConfig configures the relational trove/file catalog.
type CatalogConfig struct {
	// DatabasePath is the sqlite database file, relative to Store.DataRoot unless absolute.
	DatabasePath string `yaml:"database_path"`
	// BusyTimeout bounds how long a writer waits on sqlite's single-writer lock.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// CapabilityConfig configures the tiered capability-inference engine.
type CapabilityConfig struct {
	// ConfidenceThreshold is the minimum confidence (0..1) a capability must reach
	// to be recorded; NaN is rejected at validation time.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// Tier4WorkerPoolSize bounds concurrent ELF binary analysis.
	Tier4WorkerPoolSize int `yaml:"tier4_worker_pool_size"`
	// ConfigScanRoots lists directories Tier 3 scans for well-known config files.
	ConfigScanRoots []string `yaml:"config_scan_roots"`
}

// ChunkServerConfig configures the federated chunk cache and conversion server.
type ChunkServerConfig struct {
	ListenAddr             string        `yaml:"listen_addr"`
	BloomFalsePositiveRate float64       `yaml:"bloom_false_positive_rate"`
	BloomExpectedChunks    uint64        `yaml:"bloom_expected_chunks"`
	CacheMaxBytes          int64         `yaml:"cache_max_bytes"`
	CacheHighWaterMark     float64       `yaml:"cache_high_water_mark"`
	CacheLowWaterMark      float64       `yaml:"cache_low_water_mark"`
	PullThroughUpstreams   []string      `yaml:"pull_through_upstreams"`
	PullThroughTimeout     time.Duration `yaml:"pull_through_timeout"`
	ConversionWorkers      int           `yaml:"conversion_workers"`
	// ConversionChunkSizeBytes is the fixed chunk size a conversion job
	// splits a converted payload into before committing chunks to the CAS.
	ConversionChunkSizeBytes int64 `yaml:"conversion_chunk_size_bytes"`
}

// FederationConfig configures manifest signing, trust and distribution.
type FederationConfig struct {
	TrustPolicyPath string `yaml:"trust_policy_path"`
	SigningKeyPath  string `yaml:"signing_key_path"`
}

// NetworkConfig represents network configuration
type NetworkConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TimeoutConfig represents timeout settings
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
	Write   time.Duration `yaml:"write"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Prometheus   bool              `yaml:"prometheus"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// LoggingConfig represents logging settings
type LoggingConfig struct {
	Structured bool   `yaml:"structured"`
	Format     string `yaml:"format"`
}

// FeatureConfig represents feature flags
type FeatureConfig struct {
	ParallelCapabilityAnalysis bool `yaml:"parallel_capability_analysis"`
	AutoConvertOnMiss          bool `yaml:"auto_convert_on_miss"`
	RequireSignedManifests     bool `yaml:"require_signed_manifests"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFile:     "",
			MetricsPort: 9100,
			HealthPort:  9101,
		},
		Store: StoreConfig{
			DataRoot:   "/var/lib/conary",
			TempSubdir: "tmp",
		},
		Catalog: CatalogConfig{
			DatabasePath: "catalog.db",
			BusyTimeout:  5 * time.Second,
		},
		Capability: CapabilityConfig{
			ConfidenceThreshold: 0.5,
			Tier4WorkerPoolSize: 8,
			ConfigScanRoots:     []string{"/etc"},
		},
		ChunkServer: ChunkServerConfig{
			ListenAddr:             ":8442",
			BloomFalsePositiveRate: 0.01,
			BloomExpectedChunks:    1_000_000,
			CacheMaxBytes:          10 << 30, // 10GB
			CacheHighWaterMark:     0.9,
			CacheLowWaterMark:      0.75,
			PullThroughTimeout:     30 * time.Second,
			ConversionWorkers:      4,
			ConversionChunkSizeBytes: 4 << 20, // 4MB
		},
		Federation: FederationConfig{
			TrustPolicyPath: "/etc/conary/trust.toml",
			SigningKeyPath:  "",
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Connect: 10 * time.Second,
				Read:    30 * time.Second,
				Write:   300 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   1 * time.Second,
				MaxDelay:    30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:    true,
				Prometheus: true,
				CustomLabels: map[string]string{
					"service": "conary",
				},
			},
			Logging: LoggingConfig{
				Structured: true,
				Format:     "json",
			},
		},
		Features: FeatureConfig{
			ParallelCapabilityAnalysis: true,
			AutoConvertOnMiss:          true,
			RequireSignedManifests:     true,
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

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("CONARY_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("CONARY_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("CONARY_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}

	// Store settings
	if val := os.Getenv("CONARY_DATA_ROOT"); val != "" {
		c.Store.DataRoot = val
	}

	// Catalog settings
	if val := os.Getenv("CONARY_CATALOG_PATH"); val != "" {
		c.Catalog.DatabasePath = val
	}

	// Capability settings
	if val := os.Getenv("CONARY_CONFIDENCE_THRESHOLD"); val != "" {
		if threshold, err := strconv.ParseFloat(val, 64); err == nil {
			c.Capability.ConfidenceThreshold = threshold
		}
	}
	if val := os.Getenv("CONARY_TIER4_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Capability.Tier4WorkerPoolSize = n
		}
	}

	// Chunk server settings
	if val := os.Getenv("CONARY_CHUNKSERVER_LISTEN_ADDR"); val != "" {
		c.ChunkServer.ListenAddr = val
	}
	if val := os.Getenv("CONARY_CACHE_MAX_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.ChunkServer.CacheMaxBytes = n
		}
	}

	// Federation settings
	if val := os.Getenv("CONARY_TRUST_POLICY_PATH"); val != "" {
		c.Federation.TrustPolicyPath = val
	}

	// Feature flags
	if val := os.Getenv("CONARY_AUTO_CONVERT_ON_MISS"); val != "" {
		c.Features.AutoConvertOnMiss = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("CONARY_REQUIRE_SIGNED_MANIFESTS"); val != "" {
		c.Features.RequireSignedManifests = strings.ToLower(val) == "true"
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

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Capability.Tier4WorkerPoolSize <= 0 {
		return fmt.Errorf("tier4_worker_pool_size must be greater than 0")
	}

	if math.IsNaN(c.Capability.ConfidenceThreshold) {
		return fmt.Errorf("confidence_threshold must not be NaN")
	}
	if c.Capability.ConfidenceThreshold < 0 || c.Capability.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1")
	}

	if c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}

	if c.ChunkServer.CacheLowWaterMark >= c.ChunkServer.CacheHighWaterMark {
		return fmt.Errorf("cache_low_water_mark must be below cache_high_water_mark")
	}

	if c.ChunkServer.ConversionChunkSizeBytes <= 0 {
		return fmt.Errorf("conversion_chunk_size_bytes must be greater than 0")
	}

	validLogLevels := []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
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

	return nil
}
