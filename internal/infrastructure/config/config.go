package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when VIDEOHUB_BRIDGE_CONFIG is unset.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for the videohub bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Videohub  VideohubConfig  `yaml:"videohub"`
	Backend   BackendConfig   `yaml:"backend"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BridgeConfig identifies the bridge instance on the backend.
type BridgeConfig struct {
	ServiceID string `yaml:"service_id"`
	Name      string `yaml:"name"`
	ShortID   string `yaml:"short_id"`
	Code      string `yaml:"code"`
	ClusterID string `yaml:"cluster_id"`
	Color     string `yaml:"color"`
	Message   string `yaml:"message"`

	// MachineID defaults to the hostname.
	MachineID string `yaml:"machine_id"`

	// HealthInterval is how often the retained health message is refreshed.
	HealthInterval time.Duration `yaml:"health_interval"`
}

// VideohubConfig describes the router connection.
type VideohubConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"`
	ReconnectJitter   float64       `yaml:"reconnect_jitter"`
	ReceiveErrorDelay time.Duration `yaml:"receive_error_delay"`
}

// BackendConfig tunes the automation backend side of the bridge.
type BackendConfig struct {
	TopicPrefix     string        `yaml:"topic_prefix"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	CommandQueue    int           `yaml:"command_queue"`
	EventQueue      int           `yaml:"event_queue"`
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// DatabaseConfig contains settings for the SQLite command journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// JournalBuffer bounds the number of pending journal entries.
	JournalBuffer int `yaml:"journal_buffer"`

	// RetentionDays prunes older journal entries. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
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

// APIConfig contains HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains settings for the live event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
// A missing file is not an error: the bridge can run from defaults and
// environment variables alone.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cfg.Bridge.MachineID == "" {
		cfg.Bridge.MachineID = hostname()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// PathFromEnv returns the config file path.
func PathFromEnv() string {
	if v := os.Getenv("VIDEOHUB_BRIDGE_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ServiceID:      "videohub",
			Name:           "Blackmagic Videohub",
			ShortID:        "videohub",
			Code:           "blackmagic-videohub",
			Color:          "#FF6B35",
			Message:        "Hello from Blackmagic Videohub!",
			HealthInterval: 30 * time.Second,
		},
		Videohub: VideohubConfig{
			Port:              9990,
			ConnectTimeout:    5 * time.Second,
			ReconnectDelay:    5 * time.Second,
			ReconnectMaxDelay: 5 * time.Second,
			ReceiveErrorDelay: time.Second,
		},
		Backend: BackendConfig{
			TopicPrefix:     "videohub",
			MonitorInterval: 5 * time.Second,
			ProbeTimeout:    100 * time.Millisecond,
			CommandQueue:    100,
			EventQueue:      100,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "videohub-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Database: DatabaseConfig{
			Path:          "./data/videohub-bridge.db",
			WALMode:       true,
			BusyTimeout:   5,
			JournalBuffer: 256,
			RetentionDays: 30,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// VIDEOHUB_* and BACKEND_* keep the names used by existing deployments;
// everything else follows VIDEOHUB_BRIDGE_SECTION_KEY.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("VIDEOHUB_ADDRESS"); v != "" {
		cfg.Videohub.Host = v
	}
	if v := os.Getenv("VIDEOHUB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing VIDEOHUB_PORT: %w", err)
		}
		cfg.Videohub.Port = port
	}

	if v := os.Getenv("BACKEND_ADDRESS"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BACKEND_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing BACKEND_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("VIDEOHUB_BRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VIDEOHUB_BRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("VIDEOHUB_BRIDGE_SERVICE_ID"); v != "" {
		cfg.Bridge.ServiceID = v
	}
	if v := os.Getenv("VIDEOHUB_BRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("VIDEOHUB_BRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("VIDEOHUB_BRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ServiceID == "" {
		errs = append(errs, "bridge.service_id is required")
	}

	if c.Videohub.Host == "" {
		errs = append(errs, "videohub.host is required (set VIDEOHUB_ADDRESS environment variable)")
	}
	if c.Videohub.Port < 1 || c.Videohub.Port > 65535 {
		errs = append(errs, "videohub.port must be between 1 and 65535")
	}
	if c.Videohub.ReconnectJitter < 0 || c.Videohub.ReconnectJitter > 1 {
		errs = append(errs, "videohub.reconnect_jitter must be between 0 and 1")
	}

	if c.Backend.TopicPrefix == "" || strings.ContainsAny(c.Backend.TopicPrefix, "+#") {
		errs = append(errs, "backend.topic_prefix must be set and contain no wildcards")
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required (set BACKEND_ADDRESS environment variable)")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days cannot be negative")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown-host"
	}
	return h
}
