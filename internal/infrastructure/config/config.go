package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the BLE bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Scan     ScanConfig     `yaml:"scan"`
	Devices  []DeviceConfig `yaml:"devices"`
	Logging  LoggingConfig  `yaml:"logging"`
	History  HistoryConfig  `yaml:"history"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

// BridgeConfig contains core bridge settings.
type BridgeConfig struct {
	// Namespace is the first segment of every MQTT topic the bridge
	// subscribes to or publishes on (e.g., "ble" → "ble/+/commands").
	Namespace string `yaml:"namespace"`

	// Workers is the size of the worker pool executing scan and device
	// commands. Device I/O never blocks the MQTT delivery path.
	Workers int `yaml:"workers"`

	// RetryDelay is the backoff (in seconds) before a failed command
	// batch carrying a retry budget is re-submitted.
	RetryDelay int `yaml:"retry_delay"`
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
}

// ScanConfig contains discovery scan settings.
type ScanConfig struct {
	// Initial triggers a scan on startup by publishing a scan command
	// to the bridge's own command topic.
	Initial bool `yaml:"initial"`

	// Loop re-publishes the scan command after each completed scan,
	// creating a continuous scanning cycle.
	Loop bool `yaml:"loop"`

	// Duration is the default scan duration in seconds.
	Duration int `yaml:"duration"`

	// LoopDelay is the pause (in seconds) between looped scans.
	LoopDelay int `yaml:"loop_delay"`
}

// DeviceConfig describes one known device: a symbolic alias, its address,
// and the catalog of characteristics commands may reference.
type DeviceConfig struct {
	Name            string                 `yaml:"name"`
	Address         string                 `yaml:"address"`
	Characteristics []CharacteristicConfig `yaml:"characteristics"`
}

// CharacteristicConfig is one catalog entry. At least one of name, uuid,
// or handle must be set; the others are filled in during resolution.
type CharacteristicConfig struct {
	Name   string `yaml:"name"`
	UUID   string `yaml:"uuid"`
	Handle string `yaml:"handle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// HistoryConfig contains scan-history store settings.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays bounds how long sightings are kept; older rows are
	// pruned at startup. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// InfluxDBConfig contains InfluxDB connection settings for RSSI telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BLEBRIDGE_SECTION_KEY
// For example: BLEBRIDGE_MQTT_HOST, BLEBRIDGE_MQTT_PASSWORD
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
		Bridge: BridgeConfig{
			Namespace:  "ble",
			Workers:    2,
			RetryDelay: 10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ble-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Scan: ScanConfig{
			Initial:   true,
			Loop:      false,
			Duration:  5,
			LoopDelay: 8,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		History: HistoryConfig{
			Enabled:       false,
			Path:          "./data/ble-history.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BLEBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Bridge
	if v := os.Getenv("BLEBRIDGE_NAMESPACE"); v != "" {
		cfg.Bridge.Namespace = v
	}
	if v := os.Getenv("BLEBRIDGE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.Workers = n
		}
	}

	// MQTT
	if v := os.Getenv("BLEBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BLEBRIDGE_MQTT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = n
		}
	}
	if v := os.Getenv("BLEBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BLEBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// History
	if v := os.Getenv("BLEBRIDGE_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}

	// InfluxDB
	if v := os.Getenv("BLEBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Bridge validation
	if c.Bridge.Namespace == "" {
		errs = append(errs, "bridge.namespace is required")
	}
	if strings.ContainsAny(c.Bridge.Namespace, "/+#") {
		errs = append(errs, "bridge.namespace must be a single topic segment")
	}
	if c.Bridge.Workers < 1 {
		errs = append(errs, "bridge.workers must be at least 1")
	}
	if c.Bridge.RetryDelay < 0 {
		errs = append(errs, "bridge.retry_delay must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	// Scan validation
	if c.Scan.Duration < 1 {
		errs = append(errs, "scan.duration must be at least 1 second")
	}

	// Device validation
	seen := make(map[string]bool, len(c.Devices))
	for i, dev := range c.Devices {
		if dev.Name == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].name is required", i))
		}
		if dev.Address == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].address is required", i))
		}
		alias := strings.ToLower(dev.Name)
		if seen[alias] {
			errs = append(errs, fmt.Sprintf("devices[%d].name %q is duplicated", i, dev.Name))
		}
		seen[alias] = true
		for j, ch := range dev.Characteristics {
			if ch.Name == "" && ch.UUID == "" && ch.Handle == "" {
				errs = append(errs, fmt.Sprintf("devices[%d].characteristics[%d] needs a name, uuid, or handle", i, j))
			}
		}
	}

	// History validation
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}
	if c.History.RetentionDays < 0 {
		errs = append(errs, "history.retention_days must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRetryDelay returns the retry backoff as a Duration.
func (c *Config) GetRetryDelay() time.Duration {
	return time.Duration(c.Bridge.RetryDelay) * time.Second
}

// GetScanDuration returns the default scan duration as a Duration.
func (c *Config) GetScanDuration() time.Duration {
	return time.Duration(c.Scan.Duration) * time.Second
}

// GetLoopDelay returns the pause between looped scans as a Duration.
func (c *Config) GetLoopDelay() time.Duration {
	return time.Duration(c.Scan.LoopDelay) * time.Second
}
