package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes one reputation source in the registry.
type SourceConfig struct {
	Name        string  `yaml:"name" json:"name"`
	Type        string  `yaml:"type" json:"type"` // dnsbl | http | rules
	Reliability float64 `yaml:"reliability" json:"reliability"`
	TimeoutMS   int     `yaml:"timeout_ms" json:"timeout_ms"`
	RatePerSec  float64 `yaml:"rate_per_sec" json:"rate_per_sec"`
	Burst       int     `yaml:"burst" json:"burst"`
	DeepOnly    bool    `yaml:"deep_only" json:"deep_only"`

	// dnsbl
	Zone string `yaml:"zone,omitempty" json:"zone,omitempty"`
	// http
	URL    string `yaml:"url,omitempty" json:"url,omitempty"`
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	// rules
	FeedFile string `yaml:"feed_file,omitempty" json:"feed_file,omitempty"`
}

// Config represents the complete configuration for the VERDICT engine
type Config struct {
	// Identity
	Engine string `yaml:"engine" json:"engine"`
	Run    string `yaml:"run" json:"run"`

	// Sources
	Sources []SourceConfig `yaml:"sources" json:"sources"`

	// Cache TTLs per analysis depth
	CacheTTLStandardSec int `yaml:"cache_ttl_standard_sec" json:"cache_ttl_standard_sec"`
	CacheTTLDeepSec     int `yaml:"cache_ttl_deep_sec" json:"cache_ttl_deep_sec"`
	CacheTTLForensicSec int `yaml:"cache_ttl_forensic_sec" json:"cache_ttl_forensic_sec"`
	CacheMaxEntries     int `yaml:"cache_max_entries" json:"cache_max_entries"`

	// Bulk defaults
	BatchSize     int `yaml:"batch_size" json:"batch_size"`
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`

	// Monitoring
	MonitorIntervalSec int  `yaml:"monitor_interval_sec" json:"monitor_interval_sec"`
	RecoveryAlerts     bool `yaml:"recovery_alerts" json:"recovery_alerts"`

	// Trend history
	HistoryMaxEntries  int `yaml:"history_max_entries" json:"history_max_entries"`
	HistoryMaxAgeHours int `yaml:"history_max_age_hours" json:"history_max_age_hours"`

	// Export
	ExportDir      string `yaml:"export_dir" json:"export_dir"`
	ExportTTLHours int    `yaml:"export_ttl_hours" json:"export_ttl_hours"`

	// Observability
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr"`
	OTELEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint"`
	OTELInsecure bool   `yaml:"otel_insecure" json:"otel_insecure"`
	OTELService  string `yaml:"otel_service" json:"otel_service"`

	// Redis
	RedisAddr      string `yaml:"redis_addr" json:"redis_addr"`
	RedisQueueAddr string `yaml:"redis_queue_addr" json:"redis_queue_addr"`
	RedisQueueKey  string `yaml:"redis_queue_key" json:"redis_queue_key"`
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.Engine == "" {
		c.Engine = "verdict-1"
	}
	if c.Run == "" {
		c.Run = fmt.Sprintf("run-%d", time.Now().Unix())
	}
	if len(c.Sources) == 0 {
		c.Sources = []SourceConfig{
			{Name: "local-rules", Type: "rules", Reliability: 0.6, TimeoutMS: 500, RatePerSec: 1000, Burst: 100},
		}
	}
	for i := range c.Sources {
		if c.Sources[i].Reliability == 0 {
			c.Sources[i].Reliability = 0.5
		}
		if c.Sources[i].TimeoutMS == 0 {
			c.Sources[i].TimeoutMS = 5000
		}
		if c.Sources[i].RatePerSec == 0 {
			c.Sources[i].RatePerSec = 10
		}
		if c.Sources[i].Burst == 0 {
			c.Sources[i].Burst = 5
		}
	}
	if c.CacheTTLStandardSec == 0 {
		c.CacheTTLStandardSec = 300
	}
	if c.CacheTTLDeepSec == 0 {
		c.CacheTTLDeepSec = 1800
	}
	if c.CacheTTLForensicSec == 0 {
		c.CacheTTLForensicSec = 7200
	}
	if c.CacheMaxEntries == 0 {
		c.CacheMaxEntries = 16384
	}
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 32
	}
	if c.MonitorIntervalSec == 0 {
		c.MonitorIntervalSec = 300
	}
	if c.HistoryMaxEntries == 0 {
		c.HistoryMaxEntries = 100000
	}
	if c.HistoryMaxAgeHours == 0 {
		c.HistoryMaxAgeHours = 168
	}
	if c.ExportDir == "" {
		c.ExportDir = "exports"
	}
	if c.ExportTTLHours == 0 {
		c.ExportTTLHours = 24
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.OTELService == "" {
		c.OTELService = "verdict-engine"
	}
	if c.RedisQueueKey == "" {
		c.RedisQueueKey = "verdict:intake"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one reputation source is required")
	}
	for _, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("source name is required")
		}
		if s.Reliability < 0 || s.Reliability > 1 {
			return fmt.Errorf("source %s: reliability must be in [0,1]", s.Name)
		}
		switch s.Type {
		case "dnsbl":
			if s.Zone == "" {
				return fmt.Errorf("source %s: dnsbl zone is required", s.Name)
			}
		case "http":
			if s.URL == "" {
				return fmt.Errorf("source %s: http url is required", s.Name)
			}
		case "rules":
		default:
			return fmt.Errorf("source %s: unknown type %q", s.Name, s.Type)
		}
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}
	if c.CacheTTLStandardSec < 1 || c.CacheTTLDeepSec < 1 || c.CacheTTLForensicSec < 1 {
		return fmt.Errorf("cache TTLs must be at least 1 second")
	}
	if c.MonitorIntervalSec < 1 {
		return fmt.Errorf("monitor_interval_sec must be at least 1")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// MergeWithFlags merges command-line flags with file configuration
// Command-line flags take precedence over file configuration
func (c *Config) MergeWithFlags(flags map[string]interface{}) {
	if v, ok := flags["engine"].(string); ok && v != "" {
		c.Engine = v
	}
	if v, ok := flags["run"].(string); ok && v != "" {
		c.Run = v
	}
	if v, ok := flags["batch_size"].(int); ok && v > 0 {
		c.BatchSize = v
	}
	if v, ok := flags["max_concurrent"].(int); ok && v > 0 {
		c.MaxConcurrent = v
	}
	if v, ok := flags["metrics_addr"].(string); ok && v != "" {
		c.MetricsAddr = v
	}
	if v, ok := flags["export_dir"].(string); ok && v != "" {
		c.ExportDir = v
	}
	if v, ok := flags["otel_endpoint"].(string); ok && v != "" {
		c.OTELEndpoint = v
	}
	if v, ok := flags["otel_insecure"].(bool); ok {
		c.OTELInsecure = v
	}
	if v, ok := flags["otel_service"].(string); ok && v != "" {
		c.OTELService = v
	}
	if v, ok := flags["monitor_interval_sec"].(int); ok && v > 0 {
		c.MonitorIntervalSec = v
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_QUEUE_ADDR"); v != "" {
		c.RedisQueueAddr = v
	}
	if v := os.Getenv("REDIS_QUEUE_KEY"); v != "" {
		c.RedisQueueKey = v
	}
	if v := os.Getenv("VERDICT_API_KEY"); v != "" {
		for i := range c.Sources {
			if c.Sources[i].Type == "http" && c.Sources[i].APIKey == "" {
				c.Sources[i].APIKey = v
			}
		}
	}
}
