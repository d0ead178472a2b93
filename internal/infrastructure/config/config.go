package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the NCP monitor.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Registry RegistryConfig `yaml:"registry"`
	Devices  []DeviceConfig `yaml:"devices"`
	NCP      NCPConfig      `yaml:"ncp"`
	Mapping  MappingConfig  `yaml:"mapping"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Telegraf TelegrafConfig `yaml:"telegraf"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	TSDB     TSDBConfig     `yaml:"tsdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SiteConfig identifies this monitor instance. ID is used as the MQTT
// client suffix and the "host" tag on health messages.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// RegistryConfig points at the IS-04 Node (or Query) API used to resolve
// devices to control endpoints.
type RegistryConfig struct {
	URL     string `yaml:"url"`
	Version string `yaml:"version"`
	Timeout int    `yaml:"timeout"` // seconds

	// Discover monitors every device the registry lists when no devices
	// are configured explicitly.
	Discover bool `yaml:"discover"`

	// DiscoverInterval re-lists the registry (seconds). 0 lists once.
	DiscoverInterval int `yaml:"discover_interval"`

	// RewriteControlHost replaces the host of advertised control endpoints
	// with the registry's host (useful when devices advertise container
	// addresses).
	RewriteControlHost bool `yaml:"rewrite_control_host"`
}

// DeviceConfig selects one device to monitor.
type DeviceConfig struct {
	// ID is the IS-04 device id.
	ID string `yaml:"id"`

	// ControlURL skips the registry lookup when set.
	ControlURL string `yaml:"control_url"`

	// Label overrides the registry label in tags.
	Label string `yaml:"label"`
}

// NCPConfig contains control session and orchestration settings.
type NCPConfig struct {
	ConnectTimeout        int `yaml:"connect_timeout"` // seconds
	CommandTimeout        int `yaml:"command_timeout"` // seconds
	PingInterval          int `yaml:"ping_interval"`   // seconds, 0 disables
	PongTimeout           int `yaml:"pong_timeout"`    // seconds
	NotificationQueueSize int `yaml:"notification_queue_size"`

	Reconnect NCPReconnectConfig `yaml:"reconnect"`

	// Snapshot reads every mapped property once after subscribing.
	Snapshot bool `yaml:"snapshot"`

	// WalkDeviceModel enumerates the whole device model after connecting.
	WalkDeviceModel bool `yaml:"walk_device_model"`
	MaxWalkDepth    int  `yaml:"max_walk_depth"`
}

// NCPReconnectConfig controls per-device session retry.
type NCPReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"` // seconds
	MaxDelay     int `yaml:"max_delay"`     // seconds
}

// MappingConfig locates the property-to-field mapping catalog.
type MappingConfig struct {
	// File is a YAML or JSON catalog. Empty uses the built-in BCP-008 catalog.
	File string `yaml:"file"`
}

// DatabaseConfig contains SQLite settings for the device inventory.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix roots every topic. Defaults to "ncpmonitor".
	TopicPrefix string `yaml:"topic_prefix"`

	// PublishMetrics sends every encoded line to {prefix}/metrics/{measurement}.
	PublishMetrics bool `yaml:"publish_metrics"`

	// HealthInterval is the period of the retained health message (seconds).
	HealthInterval int `yaml:"health_interval"`
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

// TelegrafConfig contains the Telegraf socket_listener stream settings.
type TelegrafConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	DialTimeout  int    `yaml:"dial_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds

	Reconnect TelegrafReconnectConfig `yaml:"reconnect"`
}

// TelegrafReconnectConfig bounds the redial backoff.
type TelegrafReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"` // seconds
	MaxDelay     int `yaml:"max_delay"`     // seconds
}

// Address returns host:port.
func (t TelegrafConfig) Address() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// TSDBConfig contains VictoriaMetrics (line protocol /write) settings.
type TSDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// APIConfig contains the status HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NCPMONITOR_SECTION_KEY
// For example: NCPMONITOR_REGISTRY_URL, NCPMONITOR_TELEGRAF_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path from trusted flag/env
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
			ID:   "ncpmonitor-001",
			Name: "NCP Monitor",
		},
		Registry: RegistryConfig{
			Version:          "v1.3",
			Timeout:          10,
			DiscoverInterval: 60,
		},
		NCP: NCPConfig{
			ConnectTimeout:        10,
			CommandTimeout:        30,
			PingInterval:          30,
			PongTimeout:           10,
			NotificationQueueSize: 256,
			Reconnect: NCPReconnectConfig{
				InitialDelay: 5,
				MaxDelay:     120,
			},
			Snapshot:        true,
			WalkDeviceModel: true,
			MaxWalkDepth:    32,
		},
		Database: DatabaseConfig{
			Path:        "./data/ncpmonitor.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ncpmonitor",
			},
			QoS:         1,
			TopicPrefix: "ncpmonitor",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			HealthInterval: 30,
		},
		Telegraf: TelegrafConfig{
			Enabled:      true,
			Host:         "127.0.0.1",
			Port:         8094,
			DialTimeout:  5,
			WriteTimeout: 5,
			Reconnect: TelegrafReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     30,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 1,
		},
		TSDB: TSDBConfig{
			BatchSize:     1000,
			FlushInterval: 1,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NCPMONITOR_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Registry and devices
	if v := os.Getenv("NCPMONITOR_REGISTRY_URL"); v != "" {
		cfg.Registry.URL = v
	}
	if v := os.Getenv("NCPMONITOR_DEVICES"); v != "" {
		cfg.Devices = cfg.Devices[:0]
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Devices = append(cfg.Devices, DeviceConfig{ID: id})
			}
		}
	}

	// Mapping
	if v := os.Getenv("NCPMONITOR_MAPPING_FILE"); v != "" {
		cfg.Mapping.File = v
	}

	// Database
	if v := os.Getenv("NCPMONITOR_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("NCPMONITOR_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NCPMONITOR_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NCPMONITOR_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Telegraf
	if v := os.Getenv("NCPMONITOR_TELEGRAF_HOST"); v != "" {
		cfg.Telegraf.Host = v
	}

	// InfluxDB
	if v := os.Getenv("NCPMONITOR_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("NCPMONITOR_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// TSDB
	if v := os.Getenv("NCPMONITOR_TSDB_URL"); v != "" {
		cfg.TSDB.URL = v
	}

	// API
	if v := os.Getenv("NCPMONITOR_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Logging
	if v := os.Getenv("NCPMONITOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Devices: either listed explicitly or discovered from the registry.
	needRegistry := c.Registry.Discover
	if len(c.Devices) == 0 && !c.Registry.Discover {
		errs = append(errs, "devices is empty and registry.discover is false")
	}
	for i, d := range c.Devices {
		if d.ID == "" && d.ControlURL == "" {
			errs = append(errs, fmt.Sprintf("devices[%d] needs an id or a control_url", i))
		}
		if d.ControlURL == "" {
			needRegistry = true
		}
	}
	if needRegistry && c.Registry.URL == "" {
		errs = append(errs, "registry.url is required (set NCPMONITOR_REGISTRY_URL environment variable)")
	}

	// Sessions
	if c.NCP.ConnectTimeout <= 0 {
		errs = append(errs, "ncp.connect_timeout must be positive")
	}
	if c.NCP.PingInterval < 0 {
		errs = append(errs, "ncp.ping_interval must not be negative")
	}
	if c.NCP.Reconnect.MaxDelay < c.NCP.Reconnect.InitialDelay {
		errs = append(errs, "ncp.reconnect.max_delay must be at least initial_delay")
	}

	// Sinks
	if !c.Telegraf.Enabled && !c.InfluxDB.Enabled && !c.TSDB.Enabled &&
		!(c.MQTT.Enabled && c.MQTT.PublishMetrics) {
		errs = append(errs, "no metrics sink enabled (telegraf, influxdb, tsdb or mqtt.publish_metrics)")
	}
	if c.Telegraf.Enabled && (c.Telegraf.Port < 1 || c.Telegraf.Port > 65535) {
		errs = append(errs, "telegraf.port must be between 1 and 65535")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}
	if c.TSDB.Enabled && c.TSDB.URL == "" {
		errs = append(errs, "tsdb.url is required when tsdb is enabled")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Database
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// RegistryTimeout returns the registry HTTP timeout.
func (c *Config) RegistryTimeout() time.Duration {
	return seconds(c.Registry.Timeout)
}

// DiscoverIntervalDuration returns the registry re-list period.
func (c *Config) DiscoverIntervalDuration() time.Duration {
	return seconds(max(c.Registry.DiscoverInterval, 0))
}

// CommandTimeoutDuration returns the default per-command timeout. A
// non-positive setting disables it.
func (n NCPConfig) CommandTimeoutDuration() time.Duration {
	if n.CommandTimeout <= 0 {
		return -1
	}
	return seconds(n.CommandTimeout)
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return seconds(c.API.Timeouts.Read)
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return seconds(c.API.Timeouts.Write)
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return seconds(c.API.Timeouts.Idle)
}
