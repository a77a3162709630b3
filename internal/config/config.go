// Package config loads the server's YAML configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Radio   RadioConfig   `yaml:"radio"`
	Admin   AdminConfig   `yaml:"admin"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	GeoIP   GeoIPConfig   `yaml:"geoip"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig describes the rtl_tcp listening socket.
type ServerConfig struct {
	ListenAddress   string `yaml:"listen_address"`   // default 0.0.0.0
	Port            int    `yaml:"port"`             // default 1234
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds; default 5
}

// RadioConfig selects the device and its initial parameter state.
type RadioConfig struct {
	Backend        string `yaml:"backend"`          // "mock" is the only built-in backend
	Serial         string `yaml:"serial"`           // optional; empty selects device index 0
	FrequencyHz    uint64 `yaml:"frequency"`        // default 100000000
	SampleRateHz   uint32 `yaml:"sample_rate"`      // default 2048000
	QueueBytes     int    `yaml:"queue_bytes"`      // per-client queue bound; 0 = one second of samples
	MockTuner      string `yaml:"mock_tuner"`       // tuner the mock backend reports; default R820T
	MockBufferSize int    `yaml:"mock_buffer_size"` // bytes per mock buffer; default 16384
}

// AdminConfig describes the optional HTTP observability surface.
type AdminConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"` // default 127.0.0.1:8073
}

// MQTTTLSConfig holds optional certificate paths for a TLS broker.
type MQTTTLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// MQTTConfig describes the optional telemetry publisher.
type MQTTConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Broker          string        `yaml:"broker"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Topic           string        `yaml:"topic"`
	PublishInterval int           `yaml:"publish_interval"` // seconds; default 10
	TLS             MQTTTLSConfig `yaml:"tls"`
}

// GeoIPConfig points at an optional MaxMind database.
type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig tunes log output.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
}

// Default returns a Config with every default filled in, usable without a
// config file at all.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   "0.0.0.0",
			Port:            1234,
			ShutdownTimeout: 5,
		},
		Radio: RadioConfig{
			Backend:        "mock",
			FrequencyHz:    100_000_000,
			SampleRateHz:   2_048_000,
			MockTuner:      "R820T",
			MockBufferSize: 16 * 1024,
		},
		Admin: AdminConfig{
			ListenAddress: "127.0.0.1:8073",
		},
		MQTT: MQTTConfig{
			Topic:           "rtltcpd/metrics",
			PublishInterval: 10,
		},
	}
}

// Load reads and parses the YAML file at path on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Radio.SampleRateHz == 0 {
		return nil, fmt.Errorf("sample_rate must be non-zero")
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return nil, fmt.Errorf("mqtt enabled but no broker configured")
	}

	return cfg, nil
}

// ListenAddr formats the rtl_tcp listen address as host:port.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.ListenAddress, c.Server.Port)
}
