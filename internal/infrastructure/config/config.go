package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Error policies understood by the processing worker.
const (
	OnErrorDrop  = "drop"
	OnErrorClear = "clear"
)

// Config is the root configuration structure for the energy tariff bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Sensor     SensorConfig     `yaml:"sensor"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Logging    LoggingConfig    `yaml:"logging"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	// Timezone is used to place meter timestamps on the time axis.
	// Meters report local wall-clock time without an offset.
	Timezone string `yaml:"timezone"`
}

// SensorConfig identifies the meter whose telemetry is ingested.
type SensorConfig struct {
	Name        string `yaml:"name"`
	Class       string `yaml:"class"`
	Measurement string `yaml:"measurement"`
	Topic       string `yaml:"topic"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// StartupTimeout bounds the retries of the initial connection.
	// The process exits if the broker is still unreachable afterwards.
	StartupTimeout time.Duration `yaml:"startup_timeout"`
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

// MQTTReconnectConfig contains paho's own reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
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

// PrometheusConfig contains the metrics exporter settings.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// PipelineConfig tunes the ingestion queue and processing worker.
type PipelineConfig struct {
	// QueueCapacity bounds the ingestion queue. 0 means unbounded.
	// When bounded, the oldest queued message is dropped on overflow.
	QueueCapacity int `yaml:"queue_capacity"`

	// IdleInterval is how long the worker sleeps after an empty poll.
	IdleInterval time.Duration `yaml:"idle_interval"`

	// OnError is "drop" (discard the failing message) or "clear"
	// (discard it and everything queued behind it).
	OnError string `yaml:"on_error"`
}

// SupervisorConfig tunes the connection liveness loops.
type SupervisorConfig struct {
	Interval     time.Duration `yaml:"interval"`
	InitialDelay time.Duration `yaml:"initial_delay"`
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
// Environment variables keep the names used by existing deployments,
// e.g. MQTT_HOST, INFLUXDB_TOKEN, PROMETHEUS_EXPORTER_PORT, DEBUG.
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

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			Timezone: "Local",
		},
		Sensor: SensorConfig{
			Name:        "pzem004t",
			Class:       "energy",
			Measurement: "energy",
			Topic:       "tele/pzem004tv3_87A0B8/SENSOR",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     10,
			},
			StartupTimeout: 30 * time.Second,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 1,
		},
		Prometheus: PrometheusConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8000,
			Path:    "/metrics",
		},
		Pipeline: PipelineConfig{
			IdleInterval: time.Second,
			OnError:      OnErrorDrop,
		},
		Supervisor: SupervisorConfig{
			Interval:     10 * time.Second,
			InitialDelay: 3 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	// MQTT
	if v := os.Getenv("MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MQTT_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("MQTT_AUTH_USER"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MQTT_AUTH_PASS"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("INFLUXDB_ORG"); v != "" {
		cfg.InfluxDB.Org = v
	}
	if v := os.Getenv("INFLUXDB_BUCKET"); v != "" {
		cfg.InfluxDB.Bucket = v
	}

	// Prometheus
	if v := os.Getenv("PROMETHEUS_EXPORTER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PROMETHEUS_EXPORTER_PORT: %w", err)
		}
		cfg.Prometheus.Port = port
	}
	if v := os.Getenv("PROMETHEUS_EXPORTER_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PROMETHEUS_EXPORTER_ENABLED: %w", err)
		}
		cfg.Prometheus.Enabled = enabled
	}

	// Any non-empty DEBUG value switches to debug logging.
	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Logging.Level = "debug"
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("site.timezone %q is not a known timezone", c.Site.Timezone))
	}

	// Sensor validation
	if c.Sensor.Name == "" {
		errs = append(errs, "sensor.name is required")
	}
	if c.Sensor.Class == "" {
		errs = append(errs, "sensor.class is required")
	}
	if c.Sensor.Measurement == "" {
		errs = append(errs, "sensor.measurement is required")
	}
	if c.Sensor.Topic == "" {
		errs = append(errs, "sensor.topic is required")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.StartupTimeout <= 0 {
		errs = append(errs, "mqtt.startup_timeout must be positive")
	}

	// InfluxDB validation (only when enabled)
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" {
			errs = append(errs, "influxdb.org is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// Prometheus validation (only when enabled)
	if c.Prometheus.Enabled {
		if c.Prometheus.Port < 1 || c.Prometheus.Port > 65535 {
			errs = append(errs, "prometheus.port must be between 1 and 65535")
		}
		if !strings.HasPrefix(c.Prometheus.Path, "/") {
			errs = append(errs, "prometheus.path must start with /")
		}
	}

	// Pipeline validation
	if c.Pipeline.QueueCapacity < 0 {
		errs = append(errs, "pipeline.queue_capacity must not be negative")
	}
	if c.Pipeline.IdleInterval <= 0 {
		errs = append(errs, "pipeline.idle_interval must be positive")
	}
	if c.Pipeline.OnError != OnErrorDrop && c.Pipeline.OnError != OnErrorClear {
		errs = append(errs, fmt.Sprintf("pipeline.on_error must be %q or %q", OnErrorDrop, OnErrorClear))
	}

	// Supervisor validation
	if c.Supervisor.Interval <= 0 {
		errs = append(errs, "supervisor.interval must be positive")
	}
	if c.Supervisor.InitialDelay < 0 {
		errs = append(errs, "supervisor.initial_delay must not be negative")
	}

	errs = append(errs, c.Schedule.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Location returns the site timezone.
// Falls back to time.Local if the configured name cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
