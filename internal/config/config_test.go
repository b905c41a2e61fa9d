package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Test Constants
const (
	TestDebugLevel = "DEBUG"
	TestDataRoot   = "/srv/conary-test"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9100 {
		t.Errorf("Expected MetricsPort to be 9100, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Global.HealthPort != 9101 {
		t.Errorf("Expected HealthPort to be 9101, got %d", cfg.Global.HealthPort)
	}

	if cfg.Store.DataRoot != "/var/lib/conary" {
		t.Errorf("Expected DataRoot to be /var/lib/conary, got %s", cfg.Store.DataRoot)
	}

	if cfg.Capability.ConfidenceThreshold != 0.5 {
		t.Errorf("Expected ConfidenceThreshold to be 0.5, got %v", cfg.Capability.ConfidenceThreshold)
	}
	if cfg.Capability.Tier4WorkerPoolSize != 8 {
		t.Errorf("Expected Tier4WorkerPoolSize to be 8, got %d", cfg.Capability.Tier4WorkerPoolSize)
	}

	if cfg.ChunkServer.CacheHighWaterMark <= cfg.ChunkServer.CacheLowWaterMark {
		t.Error("Expected high water mark to exceed low water mark")
	}

	if !cfg.Features.RequireSignedManifests {
		t.Error("Expected RequireSignedManifests to be enabled by default")
	}
	if !cfg.Features.AutoConvertOnMiss {
		t.Error("Expected AutoConvertOnMiss to be enabled by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid config",
			config: func() *Configuration {
				return NewDefault()
			},
			wantErr: false,
		},
		{
			name: "invalid tier4 worker pool size",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Capability.Tier4WorkerPoolSize = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "tier4_worker_pool_size must be greater than 0",
		},
		{
			name: "NaN confidence threshold",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Capability.ConfidenceThreshold = math.NaN()
				return cfg
			},
			wantErr: true,
			errMsg:  "confidence_threshold must not be NaN",
		},
		{
			name: "out of range confidence threshold",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Capability.ConfidenceThreshold = 1.5
				return cfg
			},
			wantErr: true,
			errMsg:  "confidence_threshold must be between 0 and 1",
		},
		{
			name: "same metrics and health ports",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.MetricsPort = 9100
				cfg.Global.HealthPort = 9100
				return cfg
			},
			wantErr: true,
			errMsg:  "metrics_port and health_port cannot be the same",
		},
		{
			name: "low water mark above high water mark",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.ChunkServer.CacheLowWaterMark = 0.95
				cfg.ChunkServer.CacheHighWaterMark = 0.9
				return cfg
			},
			wantErr: true,
			errMsg:  "cache_low_water_mark must be below cache_high_water_mark",
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogLevel = "INVALID"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config()
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && tt.errMsg != "" {
				if !contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
				}
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
global:
  log_level: DEBUG
  metrics_port: 9190
  health_port: 9191

store:
  data_root: /srv/conary-test

capability:
  confidence_threshold: 0.75
  tier4_worker_pool_size: 16

features:
  auto_convert_on_miss: false
  require_signed_manifests: false
`

	err := os.WriteFile(configFile, []byte(configContent), 0600)
	if err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	err = cfg.LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9190 {
		t.Errorf("Expected MetricsPort to be 9190, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Store.DataRoot != TestDataRoot {
		t.Errorf("Expected DataRoot to be %s, got %s", TestDataRoot, cfg.Store.DataRoot)
	}
	if cfg.Capability.ConfidenceThreshold != 0.75 {
		t.Errorf("Expected ConfidenceThreshold to be 0.75, got %v", cfg.Capability.ConfidenceThreshold)
	}
	if cfg.Capability.Tier4WorkerPoolSize != 16 {
		t.Errorf("Expected Tier4WorkerPoolSize to be 16, got %d", cfg.Capability.Tier4WorkerPoolSize)
	}
	if cfg.Features.AutoConvertOnMiss {
		t.Error("Expected AutoConvertOnMiss to be false")
	}
	if cfg.Features.RequireSignedManifests {
		t.Error("Expected RequireSignedManifests to be false")
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadFromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	testEnvVars := map[string]string{
		"CONARY_LOG_LEVEL":                "ERROR",
		"CONARY_METRICS_PORT":             "9190",
		"CONARY_DATA_ROOT":                TestDataRoot,
		"CONARY_CONFIDENCE_THRESHOLD":     "0.8",
		"CONARY_TIER4_WORKERS":            "32",
		"CONARY_AUTO_CONVERT_ON_MISS":     "false",
		"CONARY_REQUIRE_SIGNED_MANIFESTS": "false",
	}

	for key, value := range testEnvVars {
		t.Setenv(key, value)
	}

	cfg := NewDefault()
	err := cfg.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("Expected LogLevel to be ERROR, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9190 {
		t.Errorf("Expected MetricsPort to be 9190, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Store.DataRoot != TestDataRoot {
		t.Errorf("Expected DataRoot to be %s, got %s", TestDataRoot, cfg.Store.DataRoot)
	}
	if cfg.Capability.ConfidenceThreshold != 0.8 {
		t.Errorf("Expected ConfidenceThreshold to be 0.8, got %v", cfg.Capability.ConfidenceThreshold)
	}
	if cfg.Capability.Tier4WorkerPoolSize != 32 {
		t.Errorf("Expected Tier4WorkerPoolSize to be 32, got %d", cfg.Capability.Tier4WorkerPoolSize)
	}
	if cfg.Features.AutoConvertOnMiss {
		t.Error("Expected AutoConvertOnMiss to be false")
	}
	if cfg.Features.RequireSignedManifests {
		t.Error("Expected RequireSignedManifests to be false")
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "saved_config.yaml")

	cfg := NewDefault()
	cfg.Global.LogLevel = TestDebugLevel
	cfg.Store.DataRoot = TestDataRoot

	err := cfg.SaveToFile(configFile)
	if err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	newCfg := NewDefault()
	err = newCfg.LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if newCfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", newCfg.Global.LogLevel)
	}
	if newCfg.Store.DataRoot != TestDataRoot {
		t.Errorf("Expected DataRoot to be %s, got %s", TestDataRoot, newCfg.Store.DataRoot)
	}
}

func TestSaveToFileCreateDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := NewDefault()
	err := cfg.SaveToFile(configFile)
	if err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	if _, err := os.Stat(filepath.Dir(configFile)); os.IsNotExist(err) {
		t.Error("Config directory was not created")
	}
}

// Helper function to check if a string contains a substring
func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || (len(s) > len(substr) &&
		(s[:len(substr)] == substr || s[len(s)-len(substr):] == substr ||
			indexOf(s, substr) >= 0)))
}

func indexOf(s, substr string) int {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
