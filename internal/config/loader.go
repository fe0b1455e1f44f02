package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultCheckInterval    = 5 * time.Second
	DefaultReadTimeout      = 2 * time.Second
	DefaultFailureThreshold = 3
	DefaultDedupWindowSize  = 1000
	DefaultMaxLength        = 500
	DefaultChannelTimeout   = 10 * time.Second
	DefaultRelayHold        = 5 * time.Second
	DefaultKeyEnv           = "PISAFE_ENCRYPTION_KEY"
	DefaultListen           = ":8088"
	DefaultAuditMemorySize  = 500
	DefaultGNMIPort         = 9339
)

// ErrMissingKey is returned when no encryption key material is available
var ErrMissingKey = errors.New("encryption key material is not configured")

// LoadConfig loads configuration from the directory containing path
func LoadConfig(path string) (*Config, error) {
	return LoadConfigDir(filepath.Dir(path))
}

// LoadConfigDir loads all configuration files from a directory
func LoadConfigDir(dir string) (*Config, error) {
	cfg := &Config{}

	if err := loadYAML(filepath.Join(dir, "sensors.yaml"), &cfg.Sensors); err != nil {
		return nil, fmt.Errorf("loading sensors.yaml: %w", err)
	}

	if err := loadYAML(filepath.Join(dir, "alerts.yaml"), &cfg.Alerts); err != nil {
		return nil, fmt.Errorf("loading alerts.yaml: %w", err)
	}

	// transports.yaml is optional
	transportsPath := filepath.Join(dir, "transports.yaml")
	if _, err := os.Stat(transportsPath); err == nil {
		if err := loadYAML(transportsPath, &cfg.Transports); err != nil {
			return nil, fmt.Errorf("loading transports.yaml: %w", err)
		}
	}

	ApplyDefaults(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadYAML loads a YAML file into a struct
func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

// ApplyDefaults fills every unset tunable with its default
func ApplyDefaults(cfg *Config) {
	g := &cfg.Sensors.Global
	if g.CheckInterval == 0 {
		g.CheckInterval = DefaultCheckInterval
	}
	if g.ReadTimeout == 0 {
		g.ReadTimeout = DefaultReadTimeout
	}
	if g.FailureThreshold == 0 {
		g.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Sensors.GNMI != nil && cfg.Sensors.GNMI.Port == 0 {
		cfg.Sensors.GNMI.Port = DefaultGNMIPort
	}

	b := &cfg.Alerts.AlertBehavior
	if b.DedupWindowSize == 0 {
		b.DedupWindowSize = DefaultDedupWindowSize
	}
	if b.MaxLength == 0 {
		b.MaxLength = DefaultMaxLength
	}
	if cfg.Alerts.Encryption.KeyEnv == "" {
		cfg.Alerts.Encryption.KeyEnv = DefaultKeyEnv
	}
	if cfg.Alerts.Channels.Timeout == 0 {
		cfg.Alerts.Channels.Timeout = DefaultChannelTimeout
	}
	if cfg.Alerts.Channels.Siren.RelayHold == 0 {
		cfg.Alerts.Channels.Siren.RelayHold = DefaultRelayHold
	}
	if cfg.Alerts.Channels.Push.Enabled && len(cfg.Alerts.Channels.Push.Transports) == 0 {
		cfg.Alerts.Channels.Push.Transports = []string{"websocket"}
	}

	if cfg.Transports.API.Listen == "" {
		cfg.Transports.API.Listen = DefaultListen
	}
	if cfg.Transports.Audit.MemorySize == 0 {
		cfg.Transports.Audit.MemorySize = DefaultAuditMemorySize
	}
	if cfg.Transports.Kafka.MaxRetries == 0 {
		cfg.Transports.Kafka.MaxRetries = 2
	}
	if cfg.Transports.Kafka.RetryBackoff == 0 {
		cfg.Transports.Kafka.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.Transports.Kafka.WriteTimeout == 0 {
		cfg.Transports.Kafka.WriteTimeout = 5 * time.Second
	}
}

// EncryptionKeys resolves key material from the environment.
// The primary key comes first, followed by any previous keys kept for decryption.
func (c *Config) EncryptionKeys() ([]string, error) {
	primary := strings.TrimSpace(os.Getenv(c.Alerts.Encryption.KeyEnv))
	if primary == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrMissingKey, c.Alerts.Encryption.KeyEnv)
	}
	keys := []string{primary}
	for _, env := range c.Alerts.Encryption.PreviousKeyEnvs {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			keys = append(keys, v)
		}
	}
	return keys, nil
}

// Areas returns every area known to recipients or sirens
func (c *Config) Areas() map[string]struct{} {
	areas := make(map[string]struct{})
	for _, r := range c.Alerts.Recipients {
		for _, a := range r.Areas {
			areas[a] = struct{}{}
		}
	}
	for a := range c.Alerts.Sirens {
		areas[a] = struct{}{}
	}
	return areas
}

// ValidateConfig validates the configuration
func ValidateConfig(cfg *Config) error {
	if len(cfg.Sensors.Sensors) == 0 {
		return fmt.Errorf("no sensors configured")
	}
	if cfg.Sensors.Global.CheckInterval < 0 || cfg.Sensors.Global.FailureThreshold < 0 {
		return fmt.Errorf("global: check_interval and failure_threshold must be positive")
	}

	for name, sensor := range cfg.Sensors.Sensors {
		if sensor.Kind != "digital" && sensor.Kind != "analog" {
			return fmt.Errorf("sensor %s: kind must be 'digital' or 'analog'", name)
		}
		switch sensor.Reader {
		case "gpio":
			if sensor.Pin < 0 {
				return fmt.Errorf("sensor %s: pin must be >= 0", name)
			}
		case "gnmi":
			if sensor.Path == "" {
				return fmt.Errorf("sensor %s: path is required for gnmi reader", name)
			}
			if cfg.Sensors.GNMI == nil || cfg.Sensors.GNMI.Address == "" {
				return fmt.Errorf("sensor %s: gnmi reader requires a gnmi.address", name)
			}
		case "simulated":
		default:
			return fmt.Errorf("sensor %s: reader must be 'gpio', 'gnmi' or 'simulated'", name)
		}
		if t := sensor.Threshold; t != nil && t.Min > t.Max {
			return fmt.Errorf("sensor %s: threshold min %v exceeds max %v", name, t.Min, t.Max)
		}
	}

	if bp := cfg.Sensors.Global.BackupPowerSensor; bp != "" {
		if _, ok := cfg.Sensors.Sensors[bp]; !ok {
			return fmt.Errorf("global: backup_power_sensor references unknown sensor %s", bp)
		}
	}

	ch := cfg.Alerts.Channels
	if !ch.SMS.Enabled && !ch.Push.Enabled && !ch.Siren.Enabled {
		return fmt.Errorf("at least one notification channel must be enabled")
	}
	if ch.SMS.Enabled && ch.SMS.GatewayURL == "" {
		return fmt.Errorf("channel sms: gateway_url is required")
	}
	for _, t := range ch.Push.Transports {
		switch t {
		case "websocket":
		case "kafka":
			if len(cfg.Transports.Kafka.Brokers) == 0 {
				return fmt.Errorf("channel push: kafka transport requires kafka.brokers")
			}
		default:
			return fmt.Errorf("channel push: unknown transport %s", t)
		}
	}

	seen := make(map[string]struct{}, len(cfg.Alerts.Recipients))
	for i, r := range cfg.Alerts.Recipients {
		if r.Name == "" {
			return fmt.Errorf("recipient %d: name is required", i)
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("recipient %s: duplicate name", r.Name)
		}
		seen[r.Name] = struct{}{}
	}

	for area, s := range cfg.Alerts.Sirens {
		if s.Driver != "gpio" && s.Driver != "simulated" {
			return fmt.Errorf("siren %s: driver must be 'gpio' or 'simulated'", area)
		}
	}

	if cfg.Alerts.AlertBehavior.DedupWindowSize < 0 || cfg.Alerts.AlertBehavior.MaxLength < 0 {
		return fmt.Errorf("alert_behavior: sizes must be positive")
	}

	return nil
}
