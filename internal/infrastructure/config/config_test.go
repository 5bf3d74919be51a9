package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"VIDEOHUB_ADDRESS", "VIDEOHUB_PORT", "BACKEND_ADDRESS", "BACKEND_PORT",
		"VIDEOHUB_BRIDGE_MQTT_USERNAME", "VIDEOHUB_BRIDGE_MQTT_PASSWORD",
		"VIDEOHUB_BRIDGE_SERVICE_ID", "VIDEOHUB_BRIDGE_DATABASE_PATH",
		"VIDEOHUB_BRIDGE_INFLUXDB_TOKEN", "VIDEOHUB_BRIDGE_LOG_LEVEL",
		"VIDEOHUB_BRIDGE_CONFIG",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
bridge:
  service_id: "studio-a"
  health_interval: 10s
videohub:
  host: "10.0.0.50"
  reconnect_delay: 2s
  reconnect_max_delay: 30s
backend:
  topic_prefix: "rship"
  probe_timeout: 250ms
mqtt:
  broker:
    host: "broker.local"
    port: 1884
  qos: 2
database:
  enabled: true
  path: "/tmp/journal.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.ServiceID != "studio-a" {
		t.Errorf("Bridge.ServiceID = %q, want %q", cfg.Bridge.ServiceID, "studio-a")
	}
	if cfg.Bridge.HealthInterval != 10*time.Second {
		t.Errorf("Bridge.HealthInterval = %v, want 10s", cfg.Bridge.HealthInterval)
	}
	if cfg.Videohub.Host != "10.0.0.50" || cfg.Videohub.Port != 9990 {
		t.Errorf("Videohub = %s:%d", cfg.Videohub.Host, cfg.Videohub.Port)
	}
	if cfg.Videohub.ReconnectDelay != 2*time.Second || cfg.Videohub.ReconnectMaxDelay != 30*time.Second {
		t.Errorf("reconnect = %v..%v", cfg.Videohub.ReconnectDelay, cfg.Videohub.ReconnectMaxDelay)
	}
	if cfg.Backend.TopicPrefix != "rship" || cfg.Backend.ProbeTimeout != 250*time.Millisecond {
		t.Errorf("Backend = %+v", cfg.Backend)
	}
	if cfg.MQTT.Broker.Host != "broker.local" || cfg.MQTT.Broker.Port != 1884 || cfg.MQTT.QoS != 2 {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if !cfg.Database.Enabled || cfg.Database.Path != "/tmp/journal.db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Bridge.MachineID == "" {
		t.Error("MachineID not defaulted")
	}
}

func TestLoad_MissingFileUsesDefaultsAndEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("VIDEOHUB_ADDRESS", "192.168.1.20")
	t.Setenv("VIDEOHUB_PORT", "9991")
	t.Setenv("BACKEND_ADDRESS", "rship.local")
	t.Setenv("BACKEND_PORT", "5155")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Videohub.Host != "192.168.1.20" || cfg.Videohub.Port != 9991 {
		t.Errorf("Videohub = %s:%d", cfg.Videohub.Host, cfg.Videohub.Port)
	}
	if cfg.MQTT.Broker.Host != "rship.local" || cfg.MQTT.Broker.Port != 5155 {
		t.Errorf("MQTT broker = %s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port)
	}
	if cfg.Videohub.ReconnectDelay != 5*time.Second || cfg.Backend.MonitorInterval != 5*time.Second {
		t.Errorf("defaults lost: %+v %+v", cfg.Videohub, cfg.Backend)
	}
	if cfg.Bridge.Color != "#FF6B35" || cfg.Bridge.Code != "blackmagic-videohub" {
		t.Errorf("Bridge = %+v", cfg.Bridge)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("VIDEOHUB_ADDRESS", "env-host")
	t.Setenv("VIDEOHUB_BRIDGE_MQTT_PASSWORD", "s3cret")
	t.Setenv("VIDEOHUB_BRIDGE_LOG_LEVEL", "debug")

	path := writeConfig(t, `
videohub:
  host: "file-host"
logging:
  level: "warn"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Videohub.Host != "env-host" {
		t.Errorf("Videohub.Host = %q, want env-host", cfg.Videohub.Host)
	}
	if cfg.MQTT.Auth.Password != "s3cret" {
		t.Error("MQTT password not taken from env")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_BadPortEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("VIDEOHUB_ADDRESS", "hub")
	t.Setenv("VIDEOHUB_PORT", "ninety")

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() expected error for non-numeric VIDEOHUB_PORT")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "invalid: [yaml: content")

	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
videohub:
  port: 9990
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "VIDEOHUB_ADDRESS") {
		t.Errorf("Load() error = %v, want missing videohub.host", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Videohub.Host = "hub"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(*Config) {}, ""},
		{"missing service id", func(c *Config) { c.Bridge.ServiceID = "" }, "bridge.service_id"},
		{"bad videohub port", func(c *Config) { c.Videohub.Port = 0 }, "videohub.port"},
		{"bad jitter", func(c *Config) { c.Videohub.ReconnectJitter = 1.5 }, "reconnect_jitter"},
		{"wildcard prefix", func(c *Config) { c.Backend.TopicPrefix = "hub/#" }, "topic_prefix"},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"journal without path", func(c *Config) { c.Database.Enabled = true; c.Database.Path = "" }, "database.path"},
		{"negative retention", func(c *Config) { c.Database.RetentionDays = -1 }, "retention_days"},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb.url"},
		{"api bad port", func(c *Config) { c.API.Enabled = true; c.API.Port = 70000 }, "api.port"},
		{"api disabled ignores port", func(c *Config) { c.API.Port = 0 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateJoinsErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Bridge.ServiceID = ""
	cfg.MQTT.QoS = 5

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "; ") {
		t.Errorf("Validate() error = %v, want joined messages", err)
	}
}

func TestPathFromEnv(t *testing.T) {
	clearEnv(t)
	if got := PathFromEnv(); got != DefaultPath {
		t.Errorf("PathFromEnv() = %q, want %q", got, DefaultPath)
	}
	t.Setenv("VIDEOHUB_BRIDGE_CONFIG", "/etc/videohub.yaml")
	if got := PathFromEnv(); got != "/etc/videohub.yaml" {
		t.Errorf("PathFromEnv() = %q", got)
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := defaultConfig()
	if cfg.GetReadTimeout() != 30*time.Second || cfg.GetWriteTimeout() != 30*time.Second || cfg.GetIdleTimeout() != 60*time.Second {
		t.Error("unexpected API timeouts")
	}
}
