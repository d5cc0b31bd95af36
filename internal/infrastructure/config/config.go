package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Greeter Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Hub       HubConfig       `yaml:"hub"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Assistant AssistantConfig `yaml:"assistant"`
	Speech    SpeechConfig    `yaml:"speech"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HubConfig contains the device hub endpoints and credentials.
type HubConfig struct {
	RESTURL          string             `yaml:"rest_url"`
	WebSocketURL     string             `yaml:"websocket_url"`
	Token            string             `yaml:"token"`
	RequestTimeout   int                `yaml:"request_timeout"`
	HandshakeTimeout int                `yaml:"handshake_timeout"`
	PingInterval     int                `yaml:"ping_interval"` // keepalive on the event stream
	Reconnect        HubReconnectConfig `yaml:"reconnect"`
}

// HubReconnectConfig controls how the event stream is re-established after a drop.
type HubReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"` // 0 = unlimited
	StableAfter  int `yaml:"stable_after"` // uptime that resets the backoff
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings for client WebSocket connections.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// AssistantConfig contains the natural-language model settings.
type AssistantConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	Timeout     int    `yaml:"timeout"`
	ContextFile string `yaml:"context_file"`
}

// SpeechConfig contains speech-to-text settings.
//
// Command is executed once per transcription. The literal "{input}" in Args
// is replaced by the path of the temporary audio file.
type SpeechConfig struct {
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	Timeout   int      `yaml:"timeout"`
	Workers   int      `yaml:"workers"`
	QueueSize int      `yaml:"queue_size"`
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GREETER_SECTION_KEY
// For example: GREETER_DATABASE_PATH, GREETER_HUB_TOKEN
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
		Database: DatabaseConfig{
			Path:        "./data/greeter.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Hub: HubConfig{
			RequestTimeout:   10,
			HandshakeTimeout: 10,
			PingInterval:     30,
			Reconnect: HubReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
				StableAfter:  30,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path: "/ws/unified",
			// Base64 audio frames carry up to 5 MiB of payload plus the envelope.
			MaxMessageSize: 6 << 20,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Assistant: AssistantConfig{
			BaseURL: "https://generativelanguage.googleapis.com/v1beta/models",
			Model:   "gemini-2.5-flash",
			Timeout: 30,
		},
		Speech: SpeechConfig{
			Command:   "whisper-cli",
			Args:      []string{"--output-json", "{input}"},
			Timeout:   60,
			Workers:   2,
			QueueSize: 16,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "greeter-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GREETER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Hub
	if v := os.Getenv("GREETER_HUB_REST_URL"); v != "" {
		cfg.Hub.RESTURL = v
	}
	if v := os.Getenv("GREETER_HUB_WEBSOCKET_URL"); v != "" {
		cfg.Hub.WebSocketURL = v
	}
	if v := os.Getenv("GREETER_HUB_TOKEN"); v != "" {
		cfg.Hub.Token = v
	}

	// API
	if v := os.Getenv("GREETER_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Assistant
	if v := os.Getenv("GREETER_ASSISTANT_API_KEY"); v != "" {
		cfg.Assistant.APIKey = v
	}

	// MQTT
	if v := os.Getenv("GREETER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GREETER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GREETER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GREETER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Hub validation
	if !validURL(c.Hub.RESTURL, "http", "https") {
		errs = append(errs, "hub.rest_url must be an http(s) URL")
	}
	if !validURL(c.Hub.WebSocketURL, "ws", "wss") {
		errs = append(errs, "hub.websocket_url must be a ws(s) URL")
	}
	if c.Hub.Token == "" {
		errs = append(errs, "hub.token is required (set GREETER_HUB_TOKEN environment variable)")
	}
	if c.Hub.RequestTimeout <= 0 {
		errs = append(errs, "hub.request_timeout must be positive")
	}
	if c.Hub.HandshakeTimeout <= 0 {
		errs = append(errs, "hub.handshake_timeout must be positive")
	}
	if c.Hub.PingInterval <= 0 {
		errs = append(errs, "hub.ping_interval must be positive")
	}
	if c.Hub.Reconnect.InitialDelay <= 0 || c.Hub.Reconnect.MaxDelay < c.Hub.Reconnect.InitialDelay {
		errs = append(errs, "hub.reconnect delays must be positive with max_delay >= initial_delay")
	}
	if c.Hub.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "hub.reconnect.max_attempts must not be negative")
	}
	if c.Hub.Reconnect.StableAfter <= 0 {
		errs = append(errs, "hub.reconnect.stable_after must be positive")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, "websocket.max_message_size must be positive")
	}

	if c.Assistant.Timeout <= 0 {
		errs = append(errs, "assistant.timeout must be positive")
	}

	// Speech validation
	if c.Speech.Workers < 1 {
		errs = append(errs, "speech.workers must be at least 1")
	}
	if c.Speech.QueueSize < 0 {
		errs = append(errs, "speech.queue_size must not be negative")
	}
	if c.Speech.Timeout <= 0 {
		errs = append(errs, "speech.timeout must be positive")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validURL(raw string, schemes ...string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return true
		}
	}
	return false
}

// Durations converts the timeouts to read, write and idle durations.
func (t APITimeoutConfig) Durations() (read, write, idle time.Duration) {
	return time.Duration(t.Read) * time.Second,
		time.Duration(t.Write) * time.Second,
		time.Duration(t.Idle) * time.Second
}

// GetHubRequestTimeout returns the per-request timeout for hub REST calls.
func (c *Config) GetHubRequestTimeout() time.Duration {
	return time.Duration(c.Hub.RequestTimeout) * time.Second
}

// GetHubHandshakeTimeout returns the timeout for the event stream handshake.
func (c *Config) GetHubHandshakeTimeout() time.Duration {
	return time.Duration(c.Hub.HandshakeTimeout) * time.Second
}

// GetHubPingInterval returns how often the event stream is pinged. A hub
// silent for two intervals is treated as gone.
func (c *Config) GetHubPingInterval() time.Duration {
	return time.Duration(c.Hub.PingInterval) * time.Second
}

// GetAssistantTimeout returns the timeout for one assistant request.
func (c *Config) GetAssistantTimeout() time.Duration {
	return time.Duration(c.Assistant.Timeout) * time.Second
}

// GetSpeechTimeout returns the timeout for one transcription.
func (c *Config) GetSpeechTimeout() time.Duration {
	return time.Duration(c.Speech.Timeout) * time.Second
}
