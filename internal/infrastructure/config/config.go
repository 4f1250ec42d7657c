package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Lutron bridge.
// All configuration is loaded from YAML and can be overridden by
// environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Lutron   LutronConfig   `yaml:"lutron"`
	Database DatabaseConfig `yaml:"database"`
	History  HistoryConfig  `yaml:"history"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// LutronConfig contains connection settings for the Lutron controller.
type LutronConfig struct {
	// Host is the controller's IP address or hostname.
	Host string `yaml:"host"`

	// Port is the integration protocol port. Default: 23.
	Port int `yaml:"port"`

	// Username and Password are the integration credentials.
	// Factory defaults are lutron/integration.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Prompt is the controller's ready marker. Default "GNET> ";
	// HomeWorks QS uses "QNET> ".
	Prompt string `yaml:"prompt"`

	// ReportFile is an optional path to an integration report JSON
	// export. When set, the bridge loads it at startup to build the
	// device model used for discovery announcements.
	ReportFile string `yaml:"report_file"`

	// Timeouts, in seconds. Zero means the session default.
	ConnectTimeout int `yaml:"connect_timeout"`
	ReadTimeout    int `yaml:"read_timeout"`

	// PingInterval is the keepalive interval in seconds.
	// Zero means the session default; negative disables keepalives.
	PingInterval int `yaml:"ping_interval"`

	// Reconnect backoff bounds, in seconds.
	ReconnectInterval    int `yaml:"reconnect_interval"`
	MaxReconnectInterval int `yaml:"max_reconnect_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig contains state history retention settings.
type HistoryConfig struct {
	// Enabled turns state history recording on or off.
	Enabled bool `yaml:"enabled"`

	// RetentionDays is how long state history is kept before pruning.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_LUTRON_HOST, GRAYLOGIC_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic",
			Timezone: "UTC",
		},
		Lutron: LutronConfig{
			Port:     23,
			Username: "lutron",
			Password: "integration",
		},
		Database: DatabaseConfig{
			Path:        "./data/lutron.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-lutron",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables follow the pattern:
// GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Lutron
	if v := os.Getenv("GRAYLOGIC_LUTRON_HOST"); v != "" {
		cfg.Lutron.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_LUTRON_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Lutron.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_LUTRON_USERNAME"); v != "" {
		cfg.Lutron.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_LUTRON_PASSWORD"); v != "" {
		cfg.Lutron.Password = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Lutron.Host == "" {
		errs = append(errs, "lutron.host is required (set GRAYLOGIC_LUTRON_HOST environment variable)")
	}
	if c.Lutron.Port < 1 || c.Lutron.Port > 65535 {
		errs = append(errs, "lutron.port must be between 1 and 65535")
	}
	if c.Lutron.Username == "" {
		errs = append(errs, "lutron.username is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.History.Enabled && c.History.RetentionDays < 1 {
		errs = append(errs, "history.retention_days must be at least 1 when history is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set GRAYLOGIC_INFLUXDB_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ConnectTimeout returns the Lutron connect timeout as a Duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Lutron.ConnectTimeout) * time.Second
}

// ReadTimeout returns the Lutron read timeout as a Duration.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Lutron.ReadTimeout) * time.Second
}

// PingInterval returns the keepalive interval as a Duration.
// Negative config values disable keepalives.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Lutron.PingInterval) * time.Second
}

// ReconnectInterval returns the initial reconnect delay as a Duration.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Lutron.ReconnectInterval) * time.Second
}

// MaxReconnectInterval returns the reconnect delay ceiling as a Duration.
func (c *Config) MaxReconnectInterval() time.Duration {
	return time.Duration(c.Lutron.MaxReconnectInterval) * time.Second
}

// HistoryRetention returns the state history retention window.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}
