package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete set of ambient settings for one binary.
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig controls logging destinations and level.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	LogJSON  bool   `yaml:"log_json"`
}

// MonitoringConfig controls the optional Prometheus exposition endpoint.
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig describes the Prometheus HTTP listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// NewDefault returns a configuration with sensible defaults: info-level
// logging to stderr in text form, metrics disabled until an addr is set.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
			LogFile:  "",
			LogJSON:  false,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled: false,
				Addr:    ":9262",
				Path:    "/metrics",
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file, overwriting any field
// present in the file and leaving the rest at their prior value.
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

// LoadFromEnv overlays environment variables on top of the configuration.
// Environment variables take precedence over the YAML file so an operator
// can override a single field without editing the file.
func (c *Configuration) LoadFromEnv(prefix string) {
	if val := os.Getenv(prefix + "_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv(prefix + "_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv(prefix + "_LOG_JSON"); val != "" {
		c.Global.LogJSON = strings.ToLower(val) == "true"
	}
	if val := os.Getenv(prefix + "_METRICS_ADDR"); val != "" {
		c.Monitoring.Metrics.Addr = val
		c.Monitoring.Metrics.Enabled = true
	}
}

// Validate checks internal consistency of the configuration.
func (c *Configuration) Validate() error {
	validLogLevels := []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.Global.LogLevel, level) {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Monitoring.Metrics.Enabled {
		if c.Monitoring.Metrics.Addr == "" {
			return fmt.Errorf("monitoring.metrics.addr must be set when metrics are enabled")
		}
		if _, _, err := splitHostPort(c.Monitoring.Metrics.Addr); err != nil {
			return fmt.Errorf("invalid monitoring.metrics.addr %q: %w", c.Monitoring.Metrics.Addr, err)
		}
	}

	return nil
}

func splitHostPort(addr string) (host, port string, err error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("missing port")
	}
	port = addr[idx+1:]
	if _, err := strconv.Atoi(port); err != nil {
		return "", "", fmt.Errorf("non-numeric port %q", port)
	}
	return addr[:idx], port, nil
}
