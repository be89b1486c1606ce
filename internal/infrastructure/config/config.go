package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic supervisor.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Worker     WorkerConfig     `yaml:"worker"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Reporting  ReportingConfig  `yaml:"reporting"`
}

// SupervisorConfig contains the restart policy.
type SupervisorConfig struct {
	// Name identifies the supervised worker in logs, topics and metrics.
	Name string `yaml:"name"`

	// MaxRestarts is the number of restarts allowed after abnormal exits.
	// 0 disables restarts.
	MaxRestarts int `yaml:"max_restarts"`

	// RestartDelay is the fixed wait before each restart.
	RestartDelay time.Duration `yaml:"restart_delay"`
}

// WorkerConfig describes the process being supervised.
type WorkerConfig struct {
	Binary  string   `yaml:"binary"`
	Args    []string `yaml:"args"`
	WorkDir string   `yaml:"work_dir"`

	// Port is exported to the worker through PortEnv, replacing any
	// inherited value.
	Port    int    `yaml:"port"`
	PortEnv string `yaml:"port_env"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ReportingConfig bounds the asynchronous delivery of transitions to the
// history, MQTT and InfluxDB sinks.
type ReportingConfig struct {
	// QueueSize is how many transitions may wait for delivery before new
	// ones are dropped.
	QueueSize int `yaml:"queue_size"`

	// SinkTimeout bounds one sink call, in seconds.
	SinkTimeout int `yaml:"sink_timeout"`
}

// DatabaseConfig contains SQLite settings for lifecycle history.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays bounds how long history rows are kept. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
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

// APIConfig controls the HTTP status API.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// MetricsConfig controls the Prometheus collector. Metrics are served by the
// status API at Path.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load builds the configuration.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GLSUPERVISOR_SECTION_KEY
// For example: GLSUPERVISOR_WORKER_PORT, GLSUPERVISOR_DATABASE_PATH
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the standard policy: five restarts, two
// seconds apart, supervising "node server.js" on port 3000.
func Default() *Config {
	return &Config{
		Supervisor: SupervisorConfig{
			Name:         "worker",
			MaxRestarts:  5,
			RestartDelay: 2 * time.Second,
		},
		Worker: WorkerConfig{
			Binary:  "node",
			Args:    []string{"server.js"},
			Port:    3000,
			PortEnv: "PORT",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "./data/supervisor.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "glsupervisor",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "supervisor",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 9464,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Reporting: ReportingConfig{
			QueueSize:   256,
			SinkTimeout: 5,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	// Worker
	if v := os.Getenv("GLSUPERVISOR_WORKER_BINARY"); v != "" {
		cfg.Worker.Binary = v
	}
	if v := os.Getenv("GLSUPERVISOR_WORKER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GLSUPERVISOR_WORKER_PORT: %w", err)
		}
		cfg.Worker.Port = port
	}

	// Supervisor
	if v := os.Getenv("GLSUPERVISOR_MAX_RESTARTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GLSUPERVISOR_MAX_RESTARTS: %w", err)
		}
		cfg.Supervisor.MaxRestarts = n
	}

	// Database
	if v := os.Getenv("GLSUPERVISOR_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GLSUPERVISOR_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GLSUPERVISOR_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GLSUPERVISOR_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GLSUPERVISOR_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("GLSUPERVISOR_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GLSUPERVISOR_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GLSUPERVISOR_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	return nil
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Supervisor validation
	if c.Supervisor.Name == "" {
		errs = append(errs, "supervisor.name is required")
	}
	if c.Supervisor.MaxRestarts < 0 {
		errs = append(errs, "supervisor.max_restarts must not be negative")
	}
	if c.Supervisor.RestartDelay <= 0 {
		errs = append(errs, "supervisor.restart_delay must be positive")
	}

	// Worker validation
	if c.Worker.Binary == "" {
		errs = append(errs, "worker.binary is required")
	}
	if c.Worker.Port < 1 || c.Worker.Port > 65535 {
		errs = append(errs, "worker.port must be between 1 and 65535")
	}
	if c.Worker.PortEnv == "" {
		errs = append(errs, "worker.port_env is required")
	} else if strings.ContainsAny(c.Worker.PortEnv, "= ") {
		errs = append(errs, "worker.port_env must not contain '=' or spaces")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// Reporting validation
	if c.Reporting.QueueSize < 1 {
		errs = append(errs, "reporting.queue_size must be at least 1")
	}
	if c.Reporting.SinkTimeout < 1 {
		errs = append(errs, "reporting.sink_timeout must be at least 1 second")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 0 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 0 and 65535")
	}

	// Metrics validation
	if c.Metrics.Enabled {
		if !c.API.Enabled {
			errs = append(errs, "metrics require api.enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			errs = append(errs, "metrics.path must start with '/'")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Address returns the host:port the status API listens on.
func (c APIConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}

// GetSinkTimeout returns the per-sink delivery timeout as a Duration.
func (c ReportingConfig) GetSinkTimeout() time.Duration {
	return time.Duration(c.SinkTimeout) * time.Second
}

// Retention returns the history retention window, or 0 to keep everything.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
}
