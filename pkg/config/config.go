package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "/etc/accessd/config"
	ConfigFileName    = "accessd.yml"
)

// Config holds all accessd configuration settings
type Config struct {
	// ReconcileCron is the cron spec for scheduled reconciliation runs.
	// Empty disables the scheduler.
	ReconcileCron string `yaml:"reconcile_cron" json:"reconcile_cron"`

	// SnapshotCacheSize is the number of per-portal visibility snapshots
	// kept in the LRU cache
	SnapshotCacheSize int `yaml:"snapshot_cache_size" json:"snapshot_cache_size"`

	// FeedChannel is the Postgres NOTIFY channel carrying enrollment events
	FeedChannel string `yaml:"feed_channel" json:"feed_channel"`

	// FeedMinReconnectSeconds is the initial reconnect backoff for the feed listener
	FeedMinReconnectSeconds int `yaml:"feed_min_reconnect_seconds" json:"feed_min_reconnect_seconds"`

	// FeedMaxReconnectSeconds is the reconnect backoff cap for the feed listener
	FeedMaxReconnectSeconds int `yaml:"feed_max_reconnect_seconds" json:"feed_max_reconnect_seconds"`

	// SessionBufferSize is the per-subscription event buffer; an overrun
	// degrades to a resync signal rather than blocking dispatch
	SessionBufferSize int `yaml:"session_buffer_size" json:"session_buffer_size"`

	// APIListLimitMax is the maximum number of results for listing requests
	APIListLimitMax int `yaml:"api_list_limit_max" json:"api_list_limit_max"`

	// sources tracks where each value came from
	sources map[string]string

	// configFilePath is the path to the config file
	configFilePath string
}

// Attribute represents a configuration attribute with its value and source
type Attribute struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

// Global singleton config
var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	configMu.RLock()
	if globalConfig != nil {
		configMu.RUnlock()
		return globalConfig
	}
	configMu.RUnlock()

	configMu.Lock()
	defer configMu.Unlock()

	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			// Return defaults on error
			globalConfig = newDefault()
		} else {
			globalConfig = cfg
		}
	}
	return globalConfig
}

// Reload reloads the configuration from file and environment
func Reload() error {
	cfg, err := Load()
	if err != nil {
		return err
	}

	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
	return nil
}

// newDefault returns a config with default values
func newDefault() *Config {
	return &Config{
		ReconcileCron:           "",
		SnapshotCacheSize:       1024,
		FeedChannel:             "enrollment_events",
		FeedMinReconnectSeconds: 2,
		FeedMaxReconnectSeconds: 60,
		SessionBufferSize:       64,
		APIListLimitMax:         1000,
		sources:                 make(map[string]string),
	}
}

// Load loads configuration from file and environment variables
// Environment variables take precedence over file values
func Load() (*Config, error) {
	config := newDefault()

	for _, name := range attributeNames() {
		config.sources[name] = "default"
	}

	configPath := os.Getenv("ACCESSD_CONFIG_PATH")
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	config.configFilePath = filepath.Join(configPath, ConfigFileName)

	if data, err := os.ReadFile(config.configFilePath); err == nil {
		var fileConfig Config
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", config.configFilePath, err)
		}
		config.applyFileConfig(&fileConfig)
	}

	config.applyEnvConfig()

	return config, nil
}

func attributeNames() []string {
	return []string{
		"reconcile_cron", "snapshot_cache_size", "feed_channel",
		"feed_min_reconnect_seconds", "feed_max_reconnect_seconds",
		"session_buffer_size", "api_list_limit_max",
	}
}

func (c *Config) applyFileConfig(file *Config) {
	if file.ReconcileCron != "" {
		c.ReconcileCron = file.ReconcileCron
		c.sources["reconcile_cron"] = "file"
	}
	if file.SnapshotCacheSize != 0 {
		c.SnapshotCacheSize = file.SnapshotCacheSize
		c.sources["snapshot_cache_size"] = "file"
	}
	if file.FeedChannel != "" {
		c.FeedChannel = file.FeedChannel
		c.sources["feed_channel"] = "file"
	}
	if file.FeedMinReconnectSeconds != 0 {
		c.FeedMinReconnectSeconds = file.FeedMinReconnectSeconds
		c.sources["feed_min_reconnect_seconds"] = "file"
	}
	if file.FeedMaxReconnectSeconds != 0 {
		c.FeedMaxReconnectSeconds = file.FeedMaxReconnectSeconds
		c.sources["feed_max_reconnect_seconds"] = "file"
	}
	if file.SessionBufferSize != 0 {
		c.SessionBufferSize = file.SessionBufferSize
		c.sources["session_buffer_size"] = "file"
	}
	if file.APIListLimitMax != 0 {
		c.APIListLimitMax = file.APIListLimitMax
		c.sources["api_list_limit_max"] = "file"
	}
}

func (c *Config) applyEnvConfig() {
	if val := os.Getenv("ACCESSD_RECONCILE_CRON"); val != "" {
		c.ReconcileCron = val
		c.sources["reconcile_cron"] = "environment"
	}
	if val := os.Getenv("ACCESSD_SNAPSHOT_CACHE_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.SnapshotCacheSize = i
			c.sources["snapshot_cache_size"] = "environment"
		}
	}
	if val := os.Getenv("ACCESSD_FEED_CHANNEL"); val != "" {
		c.FeedChannel = val
		c.sources["feed_channel"] = "environment"
	}
	if val := os.Getenv("ACCESSD_FEED_MIN_RECONNECT_SECONDS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.FeedMinReconnectSeconds = i
			c.sources["feed_min_reconnect_seconds"] = "environment"
		}
	}
	if val := os.Getenv("ACCESSD_FEED_MAX_RECONNECT_SECONDS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.FeedMaxReconnectSeconds = i
			c.sources["feed_max_reconnect_seconds"] = "environment"
		}
	}
	if val := os.Getenv("ACCESSD_SESSION_BUFFER_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.SessionBufferSize = i
			c.sources["session_buffer_size"] = "environment"
		}
	}
	if val := os.Getenv("ACCESSD_API_LIST_LIMIT_MAX"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.APIListLimitMax = i
			c.sources["api_list_limit_max"] = "environment"
		}
	}
}

// ConfigFilePath returns the path to the config file
func (c *Config) ConfigFilePath() string {
	return c.configFilePath
}

// Source returns the source of a configuration attribute
func (c *Config) Source(name string) string {
	if c.sources == nil {
		return "default"
	}
	if s, ok := c.sources[name]; ok {
		return s
	}
	return "default"
}

// FeedMinReconnect returns the feed listener's initial backoff as a duration
func (c *Config) FeedMinReconnect() time.Duration {
	return time.Duration(c.FeedMinReconnectSeconds) * time.Second
}

// FeedMaxReconnect returns the feed listener's backoff cap as a duration
func (c *Config) FeedMaxReconnect() time.Duration {
	return time.Duration(c.FeedMaxReconnectSeconds) * time.Second
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ReconcileCron != "" {
		if _, err := cron.ParseStandard(c.ReconcileCron); err != nil {
			return fmt.Errorf("invalid reconcile_cron value %q: %w", c.ReconcileCron, err)
		}
	}
	if c.SnapshotCacheSize <= 0 {
		return fmt.Errorf("snapshot_cache_size must be positive, got %d", c.SnapshotCacheSize)
	}
	if c.SessionBufferSize <= 0 {
		return fmt.Errorf("session_buffer_size must be positive, got %d", c.SessionBufferSize)
	}
	if c.FeedMinReconnectSeconds <= 0 || c.FeedMaxReconnectSeconds < c.FeedMinReconnectSeconds {
		return fmt.Errorf("feed reconnect interval (%d..%d seconds) is not a valid range",
			c.FeedMinReconnectSeconds, c.FeedMaxReconnectSeconds)
	}
	if strings.TrimSpace(c.FeedChannel) == "" {
		return fmt.Errorf("feed_channel must not be empty")
	}
	return nil
}

// Attributes returns all configuration attributes with their values and sources
func (c *Config) Attributes() []Attribute {
	return []Attribute{
		{Name: "reconcile_cron", Value: c.ReconcileCron, Source: c.Source("reconcile_cron")},
		{Name: "snapshot_cache_size", Value: strconv.Itoa(c.SnapshotCacheSize), Source: c.Source("snapshot_cache_size")},
		{Name: "feed_channel", Value: c.FeedChannel, Source: c.Source("feed_channel")},
		{Name: "feed_min_reconnect_seconds", Value: strconv.Itoa(c.FeedMinReconnectSeconds), Source: c.Source("feed_min_reconnect_seconds")},
		{Name: "feed_max_reconnect_seconds", Value: strconv.Itoa(c.FeedMaxReconnectSeconds), Source: c.Source("feed_max_reconnect_seconds")},
		{Name: "session_buffer_size", Value: strconv.Itoa(c.SessionBufferSize), Source: c.Source("session_buffer_size")},
		{Name: "api_list_limit_max", Value: strconv.Itoa(c.APIListLimitMax), Source: c.Source("api_list_limit_max")},
	}
}

// FormatText returns a text representation of the configuration
func (c *Config) FormatText() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Config file: %s\n\n", c.configFilePath))
	sb.WriteString(fmt.Sprintf("%-30s %-30s %s\n", "NAME", "VALUE", "SOURCE"))
	sb.WriteString(fmt.Sprintf("%-30s %-30s %s\n", "----", "-----", "------"))

	for _, attr := range c.Attributes() {
		value := attr.Value
		if value == "" {
			value = "(not set)"
		}
		sb.WriteString(fmt.Sprintf("%-30s %-30s %s\n", attr.Name, value, attr.Source))
	}
	return sb.String()
}

// FormatJSON returns a JSON representation of the configuration
func (c *Config) FormatJSON() (string, error) {
	result := map[string]interface{}{
		"config_file": c.configFilePath,
		"attributes":  c.Attributes(),
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
