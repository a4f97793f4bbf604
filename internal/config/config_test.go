package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.LogJSON {
		t.Error("Expected LogJSON to be false by default")
	}
	if cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected metrics to be disabled by default")
	}
	if cfg.Monitoring.Metrics.Addr != ":9262" {
		t.Errorf("Expected default metrics addr :9262, got %s", cfg.Monitoring.Metrics.Addr)
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
			name:   "valid config",
			config: NewDefault,
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
		{
			name: "metrics enabled with empty addr",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Monitoring.Metrics.Enabled = true
				cfg.Monitoring.Metrics.Addr = ""
				return cfg
			},
			wantErr: true,
			errMsg:  "addr must be set",
		},
		{
			name: "metrics enabled with non-numeric port",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Monitoring.Metrics.Enabled = true
				cfg.Monitoring.Metrics.Addr = ":abc"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid monitoring.metrics.addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config()
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && tt.errMsg != "" && !contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.errMsg)
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
  log_json: true

monitoring:
  metrics:
    enabled: true
    addr: ":9999"
`

	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if !cfg.Global.LogJSON {
		t.Error("Expected LogJSON to be true")
	}
	if !cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected metrics to be enabled")
	}
	if cfg.Monitoring.Metrics.Addr != ":9999" {
		t.Errorf("Expected metrics addr :9999, got %s", cfg.Monitoring.Metrics.Addr)
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("UNIONFS_LOG_LEVEL", "ERROR")
	t.Setenv("UNIONFS_LOG_JSON", "true")
	t.Setenv("UNIONFS_METRICS_ADDR", ":7000")

	cfg := NewDefault()
	cfg.LoadFromEnv("UNIONFS")

	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("Expected LogLevel to be ERROR, got %s", cfg.Global.LogLevel)
	}
	if !cfg.Global.LogJSON {
		t.Error("Expected LogJSON to be true")
	}
	if !cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected metrics to be enabled once an addr is supplied")
	}
	if cfg.Monitoring.Metrics.Addr != ":7000" {
		t.Errorf("Expected metrics addr :7000, got %s", cfg.Monitoring.Metrics.Addr)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
