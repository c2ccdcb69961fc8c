package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the tool management service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Registry  RegistryConfig  `yaml:"registry"`
	AdamBox   AdamBoxConfig   `yaml:"adambox"`
	MonitorMI MonitorMIConfig `yaml:"monitor_mi"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig identifies the workshop this instance serves.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	TLS       TLSConfig        `yaml:"tls"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// RateLimitConfig contains per-IP request limits.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	LoginPerMinute    int  `yaml:"login_per_minute"`
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

// RegistryConfig controls how the machine registry cache is loaded.
type RegistryConfig struct {
	// FetchTimeout bounds a single registry load, in seconds.
	FetchTimeout int `yaml:"fetch_timeout"`

	// RefreshInterval is the background reload period in seconds. 0 disables it.
	RefreshInterval int `yaml:"refresh_interval"`
}

// AdamBoxConfig contains settings for the Modbus TCP part counters.
type AdamBoxConfig struct {
	Enabled      bool `yaml:"enabled"`
	Port         int  `yaml:"port"`
	UnitID       int  `yaml:"unit_id"`
	Register     int  `yaml:"register"`
	Timeout      int  `yaml:"timeout"`
	PollInterval int  `yaml:"poll_interval"`
}

// MonitorMIConfig contains the connection to the Monitor MI reporting database.
type MonitorMIConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DSN          string `yaml:"dsn"`
	Schema       string `yaml:"schema"`
	QueryTimeout int    `yaml:"query_timeout"`
	MaxConns     int    `yaml:"max_conns"`
	PollInterval int    `yaml:"poll_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT          JWTConfig          `yaml:"jwt"`
	InitialAdmin InitialAdminConfig `yaml:"initial_admin"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// InitialAdminConfig seeds the first administrator on an empty user table.
type InitialAdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TOOLMGMT_SECTION_KEY
// For example: TOOLMGMT_DATABASE_PATH, TOOLMGMT_API_PORT
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
			ID:       "workshop-01",
			Name:     "Tool Management",
			Timezone: "Europe/Stockholm",
		},
		Database: DatabaseConfig{
			Path:        "./data/toolmgmt.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "toolmgmt",
			},
			QoS:         1,
			TopicPrefix: "toolmgmt",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 300,
				LoginPerMinute:    10,
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
		Registry: RegistryConfig{
			FetchTimeout:    10,
			RefreshInterval: 300,
		},
		AdamBox: AdamBoxConfig{
			Port:         502,
			UnitID:       1,
			Register:     2,
			Timeout:      10,
			PollInterval: 15,
		},
		MonitorMI: MonitorMIConfig{
			Schema:       "public",
			QueryTimeout: 5,
			MaxConns:     4,
			PollInterval: 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 720,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TOOLMGMT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TOOLMGMT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("TOOLMGMT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TOOLMGMT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TOOLMGMT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("TOOLMGMT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("TOOLMGMT_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("TOOLMGMT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// The DSN usually carries a password, keep it out of the file.
	if v := os.Getenv("TOOLMGMT_MONITOR_MI_DSN"); v != "" {
		cfg.MonitorMI.DSN = v
	}

	if v := os.Getenv("TOOLMGMT_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("TOOLMGMT_ADMIN_PASSWORD"); v != "" {
		cfg.Security.InitialAdmin.Password = v
	}
}

// minJWTSecretLength is the shortest accepted HMAC signing secret.
const minJWTSecretLength = 32

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Registry.FetchTimeout < 1 {
		errs = append(errs, "registry.fetch_timeout must be at least 1 second")
	}
	if c.Registry.RefreshInterval < 0 {
		errs = append(errs, "registry.refresh_interval must not be negative")
	}

	if c.AdamBox.Enabled {
		if c.AdamBox.Port < 1 || c.AdamBox.Port > 65535 {
			errs = append(errs, "adambox.port must be between 1 and 65535")
		}
		if c.AdamBox.UnitID < 0 || c.AdamBox.UnitID > 247 {
			errs = append(errs, "adambox.unit_id must be between 0 and 247")
		}
		if c.AdamBox.PollInterval < 1 {
			errs = append(errs, "adambox.poll_interval must be at least 1 second")
		}
	}

	if c.MonitorMI.Enabled {
		if c.MonitorMI.DSN == "" {
			errs = append(errs, "monitor_mi.dsn is required when monitor_mi is enabled (set TOOLMGMT_MONITOR_MI_DSN)")
		}
		if c.MonitorMI.PollInterval < 0 {
			errs = append(errs, "monitor_mi.poll_interval cannot be negative")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set TOOLMGMT_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
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

// FetchTimeoutDuration returns the registry fetch timeout.
func (r RegistryConfig) FetchTimeoutDuration() time.Duration {
	return time.Duration(r.FetchTimeout) * time.Second
}

// RefreshIntervalDuration returns the registry reload period. Zero disables reloading.
func (r RegistryConfig) RefreshIntervalDuration() time.Duration {
	return time.Duration(r.RefreshInterval) * time.Second
}

// TimeoutDuration returns the Modbus request timeout.
func (a AdamBoxConfig) TimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// PollIntervalDuration returns the period between counter sweeps.
func (a AdamBoxConfig) PollIntervalDuration() time.Duration {
	return time.Duration(a.PollInterval) * time.Second
}

// QueryTimeoutDuration returns the per-query timeout for Monitor MI.
func (m MonitorMIConfig) QueryTimeoutDuration() time.Duration {
	return time.Duration(m.QueryTimeout) * time.Second
}

// PollIntervalDuration returns the period between status sweeps. Zero
// disables the status watcher.
func (m MonitorMIConfig) PollIntervalDuration() time.Duration {
	return time.Duration(m.PollInterval) * time.Second
}
