package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when IOT_CONFIG is not set.
// A missing file at this path is not an error: defaults plus environment
// overrides are enough to run the device.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure shared by the terminal device,
// the admin console and the telemetry sink.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Session  SessionConfig  `yaml:"session"`
	Admin    AdminConfig    `yaml:"admin"`
	Relay    RelayConfig    `yaml:"relay"`
	IAP      IAPConfig      `yaml:"iap"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Sink     SinkConfig     `yaml:"sink"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig identifies the device inside the cloud registry.
type DeviceConfig struct {
	ProjectID      string `yaml:"project_id"`
	Region         string `yaml:"region"`
	RegistryID     string `yaml:"registry_id"`
	DeviceID       string `yaml:"device_id"`
	Algorithm      string `yaml:"algorithm"`
	PrivateKeyFile string `yaml:"private_key_file"`
	// MessageType is the last topic segment for publishes: "events" or "state".
	MessageType string `yaml:"message_type"`
}

// BridgeConfig contains MQTT bridge connection details.
type BridgeConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	TLS            bool   `yaml:"tls"`
	KeepAlive      int    `yaml:"keep_alive"`
	ConnectTimeout int    `yaml:"connect_timeout"`
}

// SessionConfig tunes token rotation and publish backoff.
type SessionConfig struct {
	TokenExpMins int `yaml:"token_exp_mins"`
	MinBackoff   int `yaml:"min_backoff"`
	MaxBackoff   int `yaml:"max_backoff"`
	QueueSize    int `yaml:"queue_size"`
	// RefreshCheckSeconds enables a periodic token age check in addition to
	// the check made before every publish. 0 disables it.
	RefreshCheckSeconds int `yaml:"refresh_check_seconds"`
}

// AdminConfig contains the admin console HTTP server settings.
type AdminConfig struct {
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

// RelayConfig points the admin console at the device manager API.
type RelayConfig struct {
	Endpoint    string `yaml:"endpoint"`
	AccessToken string `yaml:"access_token"`
	Timeout     int    `yaml:"timeout"`
}

// IAPConfig controls identity assertion verification on the admin console.
type IAPConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Audience    string `yaml:"audience"`
	KeysURL     string `yaml:"keys_url"`
	KeyCacheTTL int    `yaml:"key_cache_ttl"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// SinkConfig contains the telemetry sink HTTP server settings.
type SinkConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// MetricsConfig controls the Prometheus endpoint of the terminal device.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// envOverrides lists every environment variable that can override the file.
// The device keys keep the camelCase names used by the device .env file.
type envOverrides struct {
	ProjectID      string `env:"projectId"`
	DeviceID       string `env:"deviceId"`
	RegistryID     string `env:"registryId"`
	Region         string `env:"region"`
	Algorithm      string `env:"algorithm"`
	PrivateKeyFile string `env:"privateKeyFile"`
	BridgeHost     string `env:"mqttBridgeHostname"`
	BridgePort     int    `env:"mqttBridgePort"`
	MessageType    string `env:"messageType"`
	TokenExpMins   int    `env:"tokenExpMins"`

	AdminPort        int    `env:"PORT"`
	RelayEndpoint    string `env:"IOT_RELAY_ENDPOINT"`
	RelayAccessToken string `env:"IOT_RELAY_ACCESS_TOKEN"`
	IAPAudience      string `env:"IOT_IAP_AUDIENCE"`
	DatabasePath     string `env:"IOT_DATABASE_PATH"`
	InfluxDBToken    string `env:"IOT_INFLUXDB_TOKEN"`
	LogLevel         string `env:"IOT_LOG_LEVEL"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// A missing file is only tolerated for DefaultPath.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
		// env-only mode
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
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
		Device: DeviceConfig{
			Algorithm:   "RS256",
			MessageType: "events",
		},
		Bridge: BridgeConfig{
			Host:           "mqtt.googleapis.com",
			Port:           8883,
			TLS:            true,
			KeepAlive:      60,
			ConnectTimeout: 10,
		},
		Session: SessionConfig{
			TokenExpMins: 20,
			MinBackoff:   1,
			MaxBackoff:   32,
			QueueSize:    64,
		},
		Admin: AdminConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Relay: RelayConfig{
			Endpoint: "https://cloudiot.googleapis.com",
			Timeout:  10,
		},
		IAP: IAPConfig{
			KeysURL:     "https://www.gstatic.com/iap/verify/public_key",
			KeyCacheTTL: 3600,
		},
		Database: DatabaseConfig{
			Path:        "./data/admin.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			Org:           "iot",
			Bucket:        "device",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Sink: SinkConfig{
			Host: "0.0.0.0",
			Port: 8081,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9100",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Only variables that are set replace file values.
func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return err
	}

	setString(&cfg.Device.ProjectID, env.ProjectID)
	setString(&cfg.Device.DeviceID, env.DeviceID)
	setString(&cfg.Device.RegistryID, env.RegistryID)
	setString(&cfg.Device.Region, env.Region)
	setString(&cfg.Device.Algorithm, env.Algorithm)
	setString(&cfg.Device.PrivateKeyFile, env.PrivateKeyFile)
	setString(&cfg.Device.MessageType, env.MessageType)
	setString(&cfg.Bridge.Host, env.BridgeHost)
	setInt(&cfg.Bridge.Port, env.BridgePort)
	setInt(&cfg.Session.TokenExpMins, env.TokenExpMins)

	setInt(&cfg.Admin.Port, env.AdminPort)
	setString(&cfg.Relay.Endpoint, env.RelayEndpoint)
	setString(&cfg.Relay.AccessToken, env.RelayAccessToken)
	setString(&cfg.IAP.Audience, env.IAPAudience)
	setString(&cfg.Database.Path, env.DatabasePath)
	setString(&cfg.InfluxDB.Token, env.InfluxDBToken)
	setString(&cfg.Logging.Level, env.LogLevel)

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// Validate checks settings shared by every binary.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.Port < 1 || c.Bridge.Port > 65535 {
		errs = append(errs, "bridge.port must be between 1 and 65535")
	}
	if c.Session.TokenExpMins < 1 {
		errs = append(errs, "session.token_exp_mins must be at least 1")
	}
	if c.Session.MinBackoff < 1 {
		errs = append(errs, "session.min_backoff must be at least 1")
	}
	if c.Session.MaxBackoff <= c.Session.MinBackoff {
		errs = append(errs, "session.max_backoff must be greater than session.min_backoff")
	}
	if c.Session.QueueSize < 1 {
		errs = append(errs, "session.queue_size must be at least 1")
	}
	if c.Admin.Port < 1 || c.Admin.Port > 65535 {
		errs = append(errs, "admin.port must be between 1 and 65535")
	}
	if c.Sink.Port < 1 || c.Sink.Port > 65535 {
		errs = append(errs, "sink.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateDevice checks the settings the terminal device needs to mint
// tokens and reach the bridge.
func (c *Config) ValidateDevice() error {
	var errs []string

	errs = appendMissing(errs, c.Device.ProjectID, "device.project_id (projectId)")
	errs = appendMissing(errs, c.Device.Region, "device.region (region)")
	errs = appendMissing(errs, c.Device.RegistryID, "device.registry_id (registryId)")
	errs = appendMissing(errs, c.Device.DeviceID, "device.device_id (deviceId)")
	errs = appendMissing(errs, c.Device.PrivateKeyFile, "device.private_key_file (privateKeyFile)")
	errs = appendMissing(errs, c.Bridge.Host, "bridge.host (mqttBridgeHostname)")

	switch c.Device.Algorithm {
	case "RS256", "ES256":
	default:
		errs = append(errs, "device.algorithm must be RS256 or ES256")
	}

	switch c.Device.MessageType {
	case "events", "state":
	default:
		errs = append(errs, "device.message_type must be events or state")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateAdmin checks the settings the admin console needs to relay commands.
func (c *Config) ValidateAdmin() error {
	var errs []string

	errs = appendMissing(errs, c.Device.ProjectID, "device.project_id (projectId)")
	errs = appendMissing(errs, c.Device.Region, "device.region (region)")
	errs = appendMissing(errs, c.Device.RegistryID, "device.registry_id (registryId)")
	errs = appendMissing(errs, c.Device.DeviceID, "device.device_id (deviceId)")
	errs = appendMissing(errs, c.Relay.Endpoint, "relay.endpoint")
	errs = appendMissing(errs, c.Database.Path, "database.path")

	if c.IAP.Enabled {
		errs = appendMissing(errs, c.IAP.Audience, "iap.audience (IOT_IAP_AUDIENCE)")
		errs = appendMissing(errs, c.IAP.KeysURL, "iap.keys_url")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateSink checks the settings the telemetry sink needs.
func (c *Config) ValidateSink() error {
	var errs []string

	if !c.InfluxDB.Enabled {
		errs = append(errs, "influxdb.enabled must be true for the telemetry sink")
	}
	errs = appendMissing(errs, c.InfluxDB.URL, "influxdb.url")
	errs = appendMissing(errs, c.InfluxDB.Bucket, "influxdb.bucket")

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func appendMissing(errs []string, value, name string) []string {
	if value == "" {
		return append(errs, name+" is required")
	}
	return errs
}

// ClientID returns the registry path the bridge expects as MQTT client id.
//
// Example: projects/p/locations/europe-west1/registries/r/devices/d
func (d DeviceConfig) ClientID() string {
	return fmt.Sprintf("projects/%s/locations/%s/registries/%s/devices/%s",
		d.ProjectID, d.Region, d.RegistryID, d.DeviceID)
}

// TokenValidity returns the token rotation threshold as a Duration.
func (s SessionConfig) TokenValidity() time.Duration {
	return time.Duration(s.TokenExpMins) * time.Minute
}

// MinBackoffDuration returns the minimum publish backoff as a Duration.
func (s SessionConfig) MinBackoffDuration() time.Duration {
	return time.Duration(s.MinBackoff) * time.Second
}

// MaxBackoffDuration returns the maximum publish backoff as a Duration.
func (s SessionConfig) MaxBackoffDuration() time.Duration {
	return time.Duration(s.MaxBackoff) * time.Second
}

// RefreshCheckInterval returns the periodic token check interval (0 when disabled).
func (s SessionConfig) RefreshCheckInterval() time.Duration {
	return time.Duration(s.RefreshCheckSeconds) * time.Second
}

// GetReadTimeout returns the admin read timeout as a Duration.
func (a AdminConfig) GetReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the admin write timeout as a Duration.
func (a AdminConfig) GetWriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the admin idle timeout as a Duration.
func (a AdminConfig) GetIdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}
