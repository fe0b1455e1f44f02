package config

import "time"

// Config represents the complete PiSAFE configuration
type Config struct {
	Sensors    SensorsConfig    `yaml:"-"`
	Alerts     AlertConfig      `yaml:"-"`
	Transports TransportsConfig `yaml:"-"`
}

// SensorsConfig is loaded from sensors.yaml
type SensorsConfig struct {
	Global  GlobalConfig            `yaml:"global"`
	GNMI    *GNMIConfig             `yaml:"gnmi,omitempty"`
	Sensors map[string]SensorConfig `yaml:"sensors"`
}

// GlobalConfig contains monitoring settings
type GlobalConfig struct {
	CheckInterval     time.Duration `yaml:"check_interval"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	BackupPowerSensor string        `yaml:"backup_power_sensor,omitempty"`
	ThermalZone       string        `yaml:"thermal_zone,omitempty"`
	PowerSupply       string        `yaml:"power_supply,omitempty"`
}

// GNMIConfig describes a networked sensor hub reached over gNMI
type GNMIConfig struct {
	Address     string     `yaml:"address"`
	Port        int        `yaml:"port"`
	Username    string     `yaml:"username,omitempty"`
	PasswordEnv string     `yaml:"password_env,omitempty"`
	TLS         *TLSConfig `yaml:"tls,omitempty"`
}

// TLSConfig holds TLS settings for the gNMI connection
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
	ServerName         string `yaml:"server_name,omitempty"`
	CAFile             string `yaml:"ca_file,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
}

// SensorConfig defines one monitored sensor
type SensorConfig struct {
	Description string           `yaml:"description,omitempty"`
	Kind        string           `yaml:"kind"`   // "digital" or "analog"
	Reader      string           `yaml:"reader"` // "gpio", "gnmi" or "simulated"
	Pin         int              `yaml:"pin,omitempty"`
	Path        string           `yaml:"path,omitempty"`
	Area        string           `yaml:"area,omitempty"`
	Threshold   *ThresholdConfig `yaml:"threshold,omitempty"`
	Values      []float64        `yaml:"values,omitempty"` // simulated script
}

// ThresholdConfig is the inclusive acceptable range of a sensor
type ThresholdConfig struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// AlertConfig is loaded from alerts.yaml
type AlertConfig struct {
	AlertBehavior AlertBehavior          `yaml:"alert_behavior"`
	Encryption    EncryptionConfig       `yaml:"encryption"`
	Channels      ChannelsConfig         `yaml:"channels"`
	Recipients    []RecipientConfig      `yaml:"recipients"`
	Sirens        map[string]SirenConfig `yaml:"sirens,omitempty"`
}

// AlertBehavior defines validation settings
type AlertBehavior struct {
	DedupWindowSize  int `yaml:"dedup_window_size"`
	MaxLength        int `yaml:"max_length"`
	MaxAlertsPerHour int `yaml:"max_alerts_per_hour,omitempty"`
}

// EncryptionConfig names the environment variables holding key material
type EncryptionConfig struct {
	KeyEnv          string   `yaml:"key_env"`
	PreviousKeyEnvs []string `yaml:"previous_key_envs,omitempty"`
}

// ChannelsConfig enables and tunes the notification channels
type ChannelsConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	SMS     SMSConfig     `yaml:"sms"`
	Push    PushConfig    `yaml:"push"`
	Siren   SirenChannel  `yaml:"siren"`
}

// SMSConfig configures the HTTP SMS gateway
type SMSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	GatewayURL    string `yaml:"gateway_url"`
	AccountSIDEnv string `yaml:"account_sid_env,omitempty"`
	AuthTokenEnv  string `yaml:"auth_token_env,omitempty"`
	FromNumber    string `yaml:"from_number,omitempty"`
}

// PushConfig configures live push transports
type PushConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Transports []string `yaml:"transports"` // "websocket", "kafka"
}

// SirenChannel configures the siren/relay channel
type SirenChannel struct {
	Enabled   bool          `yaml:"enabled"`
	RelayHold time.Duration `yaml:"relay_hold"`
}

// RecipientConfig is a notification recipient
type RecipientConfig struct {
	Name      string   `yaml:"name"`
	Phone     string   `yaml:"phone,omitempty"`
	PushTopic string   `yaml:"push_topic,omitempty"`
	Areas     []string `yaml:"areas,omitempty"`
}

// SirenConfig binds an area to a relay
type SirenConfig struct {
	Driver string `yaml:"driver"` // "gpio" or "simulated"
	Pin    int    `yaml:"pin,omitempty"`
}

// TransportsConfig is loaded from transports.yaml (optional)
type TransportsConfig struct {
	API   APIConfig   `yaml:"api"`
	Kafka KafkaConfig `yaml:"kafka"`
	Audit AuditConfig `yaml:"audit"`
}

// APIConfig configures the HTTP surface
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// KafkaConfig configures the Kafka push producer
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers,omitempty"`
	MaxRetries   int           `yaml:"max_retries,omitempty"`
	RetryBackoff time.Duration `yaml:"retry_backoff,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
}

// AuditConfig configures audit sinks
type AuditConfig struct {
	MemorySize    int    `yaml:"memory_size"`
	DynamoDBTable string `yaml:"dynamodb_table,omitempty"`
	Region        string `yaml:"region,omitempty"`
}
