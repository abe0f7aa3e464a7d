package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Host link modes.
const (
	HostModeLocal = "local"
	HostModeMQTT  = "mqtt"
)

// Config is the root configuration structure for the PowerView bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Hub       HubConfig       `yaml:"hub"`
	Stream    StreamConfig    `yaml:"stream"`
	Engine    EngineConfig    `yaml:"engine"`
	Host      HostConfig      `yaml:"host"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// HubConfig describes the PowerView hub being mirrored.
type HubConfig struct {
	// Address is the hub hostname or IP, optionally with a port.
	Address string `yaml:"address"`

	// Generation selects the hub API: 2 or 3. Zero means probe at startup.
	Generation int `yaml:"generation"`

	RequestTimeout   int  `yaml:"request_timeout"` // seconds
	ShortPoll        int  `yaml:"short_poll"`      // seconds
	LongPoll         int  `yaml:"long_poll"`       // seconds
	RemoveStaleNodes bool `yaml:"remove_stale_nodes"`
}

// StreamConfig contains event stream reconnect settings.
type StreamConfig struct {
	BackoffBase int `yaml:"backoff_base"` // seconds
	BackoffMax  int `yaml:"backoff_max"`  // seconds
	MaxRetries  int `yaml:"max_retries"`
	IdleTimeout int `yaml:"idle_timeout"` // seconds
}

// EngineConfig contains event dispatcher and startup settings.
type EngineConfig struct {
	StartupTimeout  int `yaml:"startup_timeout"`  // seconds
	EventMaxAge     int `yaml:"event_max_age"`    // seconds
	RecheckInterval int `yaml:"recheck_interval"` // milliseconds
	CreationTimeout int `yaml:"creation_timeout"` // seconds
}

// HostConfig selects how devices are registered with the automation host.
type HostConfig struct {
	Mode        string `yaml:"mode"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// CommandLog records API and MQTT commands in the command_log table.
	// In mqtt host mode it is the only reason the database is opened.
	CommandLog bool `yaml:"command_log"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
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
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty secret leaves the API unauthenticated.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PVBRIDGE_SECTION_KEY
// For example: PVBRIDGE_HUB_ADDRESS, PVBRIDGE_HOST_MODE
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
		Hub: HubConfig{
			Address:        "powerview-g3.local",
			RequestTimeout: 10,
			ShortPoll:      30,
			LongPoll:       60,
		},
		Stream: StreamConfig{
			BackoffBase: 2,
			BackoffMax:  60,
			MaxRetries:  10,
			IdleTimeout: 300,
		},
		Engine: EngineConfig{
			StartupTimeout:  300,
			EventMaxAge:     120,
			RecheckInterval: 2000,
			CreationTimeout: 60,
		},
		Host: HostConfig{
			Mode:        HostModeLocal,
			TopicPrefix: "pvbridge",
		},
		Database: DatabaseConfig{
			Path:        "./data/pvbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
			CommandLog:  true,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pvbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
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
// Environment variables follow the pattern: PVBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Hub
	if v := os.Getenv("PVBRIDGE_HUB_ADDRESS"); v != "" {
		cfg.Hub.Address = v
	}
	if v := os.Getenv("PVBRIDGE_HUB_GENERATION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Hub.Generation = n
		}
	}

	// Host
	if v := os.Getenv("PVBRIDGE_HOST_MODE"); v != "" {
		cfg.Host.Mode = v
	}

	// Database
	if v := os.Getenv("PVBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PVBRIDGE_DATABASE_COMMAND_LOG"); v != "" {
		cfg.Database.CommandLog = v == "true" || v == "1"
	}

	// MQTT
	if v := os.Getenv("PVBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PVBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PVBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("PVBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("PVBRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Hub.Address == "" {
		errs = append(errs, "hub.address is required")
	}
	if c.Hub.Generation != 0 && c.Hub.Generation != 2 && c.Hub.Generation != 3 {
		errs = append(errs, "hub.generation must be 0 (auto), 2, or 3")
	}
	if c.Hub.ShortPoll < 1 || c.Hub.LongPoll < 1 {
		errs = append(errs, "hub.short_poll and hub.long_poll must be positive")
	}

	if c.Stream.BackoffBase < 1 {
		errs = append(errs, "stream.backoff_base must be positive")
	}
	if c.Stream.BackoffMax < c.Stream.BackoffBase {
		errs = append(errs, "stream.backoff_max must not be less than stream.backoff_base")
	}
	if c.Stream.MaxRetries < 1 {
		errs = append(errs, "stream.max_retries must be positive")
	}

	if c.Engine.StartupTimeout < 1 {
		errs = append(errs, "engine.startup_timeout must be positive")
	}
	if c.Engine.EventMaxAge < 1 {
		errs = append(errs, "engine.event_max_age must be positive")
	}

	switch c.Host.Mode {
	case HostModeLocal:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required in local host mode")
		}
	case HostModeMQTT:
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required in mqtt host mode")
		}
		if c.Database.CommandLog && c.Database.Path == "" {
			errs = append(errs, "database.path is required when database.command_log is enabled")
		}
	default:
		errs = append(errs, "host.mode must be \"local\" or \"mqtt\"")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
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

// GetHubRequestTimeout returns the per-request hub timeout as a Duration.
func (c *Config) GetHubRequestTimeout() time.Duration {
	return time.Duration(c.Hub.RequestTimeout) * time.Second
}

// GetShortPoll returns the Gen-2 polling interval as a Duration.
func (c *Config) GetShortPoll() time.Duration {
	return time.Duration(c.Hub.ShortPoll) * time.Second
}

// GetLongPoll returns the full refresh interval as a Duration.
func (c *Config) GetLongPoll() time.Duration {
	return time.Duration(c.Hub.LongPoll) * time.Second
}

// GetStartupTimeout returns the startup barrier timeout as a Duration.
func (c *Config) GetStartupTimeout() time.Duration {
	return time.Duration(c.Engine.StartupTimeout) * time.Second
}

// GetEventMaxAge returns the age after which unclaimed events are discarded.
func (c *Config) GetEventMaxAge() time.Duration {
	return time.Duration(c.Engine.EventMaxAge) * time.Second
}

// GetRecheckInterval returns how often idle consumers re-examine the event log.
func (c *Config) GetRecheckInterval() time.Duration {
	return time.Duration(c.Engine.RecheckInterval) * time.Millisecond
}

// GetCreationTimeout returns how long discovery waits for a device creation ack.
func (c *Config) GetCreationTimeout() time.Duration {
	return time.Duration(c.Engine.CreationTimeout) * time.Second
}
