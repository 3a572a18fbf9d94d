package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so interval values can be written in YAML
// with Go duration syntax, like "500ms" or "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config represents the main configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logs    LogsConfig    `yaml:"logs"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig defines the HTTP and streaming surface.
type ServerConfig struct {
	Address           string   `yaml:"address"`
	MaxSSEConnections int      `yaml:"max_sse_connections"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	QueryRateLimit    int      `yaml:"query_rate_limit"` // requests/sec, negative disables
	MaxPageLimit      int      `yaml:"max_page_limit"`
}

// LogsConfig defines which files are tailed and how often they are polled.
type LogsConfig struct {
	Dir          string   `yaml:"dir"`      // gateway.log and gateway.err.log live here
	JSONDir      string   `yaml:"json_dir"` // date-stamped JSON logs live here
	PollInterval Duration `yaml:"poll_interval"`
}

// StoreConfig defines the SQLite log store.
type StoreConfig struct {
	Path       string `yaml:"path"`
	PoolSize   int    `yaml:"pool_size"`
	MaxEntries int    `yaml:"max_entries"`
}

// LoggingConfig defines operational logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default values.
const (
	DefaultAddress           = ":18790"
	DefaultMaxSSEConnections = 20
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultQueryRateLimit    = 50
	DefaultMaxPageLimit      = 1000
	DefaultPollInterval      = 1 * time.Second
	DefaultMaxEntries        = 10000
	DefaultPoolSize          = 4
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
)

// Load loads configuration from a YAML file with environment variable
// expansion.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}

	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.MaxSSEConnections == 0 {
		c.Server.MaxSSEConnections = DefaultMaxSSEConnections
	}
	if c.Server.HeartbeatInterval == 0 {
		c.Server.HeartbeatInterval = Duration(DefaultHeartbeatInterval)
	}
	if c.Server.QueryRateLimit == 0 {
		c.Server.QueryRateLimit = DefaultQueryRateLimit
	}
	if c.Server.MaxPageLimit == 0 {
		c.Server.MaxPageLimit = DefaultMaxPageLimit
	}
	if c.Logs.Dir == "" {
		c.Logs.Dir = filepath.Join(home, ".openclaw", "logs")
	}
	if c.Logs.JSONDir == "" {
		c.Logs.JSONDir = filepath.Join(os.TempDir(), "openclaw")
	}
	if c.Logs.PollInterval == 0 {
		c.Logs.PollInterval = Duration(DefaultPollInterval)
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(home, ".cortex", "cortex.db")
	}
	if c.Store.PoolSize == 0 {
		c.Store.PoolSize = DefaultPoolSize
	}
	if c.Store.MaxEntries == 0 {
		c.Store.MaxEntries = DefaultMaxEntries
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.MaxSSEConnections < 1 {
		return fmt.Errorf("max_sse_connections must be positive, got %d", c.Server.MaxSSEConnections)
	}
	if c.Server.HeartbeatInterval.Std() < time.Second {
		return fmt.Errorf("heartbeat_interval must be at least 1s, got %s", c.Server.HeartbeatInterval)
	}
	if c.Logs.PollInterval.Std() < 100*time.Millisecond {
		return fmt.Errorf("poll_interval must be at least 100ms, got %s", c.Logs.PollInterval)
	}
	if c.Store.MaxEntries < 1 {
		return fmt.Errorf("store max_entries must be positive, got %d", c.Store.MaxEntries)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}
