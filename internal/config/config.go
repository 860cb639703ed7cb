// Package config provides configuration types and loading for wagate.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Gateway, Session, Credentials, Audit, Kafka, Slack, Log.
type Config struct {
	Paths       PathsConfig       `json:"paths"`
	Gateway     GatewayConfig     `json:"gateway"`
	Session     SessionConfig     `json:"session"`
	Credentials CredentialsConfig `json:"credentials"`
	Audit       AuditConfig       `json:"audit"`
	Kafka       KafkaConfig       `json:"kafka"`
	Slack       SlackConfig       `json:"slack"`
	Log         LogConfig         `json:"log"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	// DataDir holds per-tenant device stores, the credential directory and
	// the audit database unless those are set explicitly.
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
}

// ---------------------------------------------------------------------------
// Gateway – HTTP surface
// ---------------------------------------------------------------------------

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Host              string        `json:"host" envconfig:"HOST"`
	Port              int           `json:"port" envconfig:"PORT"`
	AdminToken        string        `json:"adminToken" envconfig:"ADMIN_TOKEN"`
	AllowedKeys       []string      `json:"allowedKeys" envconfig:"ALLOWED_KEYS"`
	HeartbeatInterval time.Duration `json:"heartbeatInterval" envconfig:"HEARTBEAT_INTERVAL"`
	SubscriberBuffer  int           `json:"subscriberBuffer" envconfig:"SUBSCRIBER_BUFFER"`
	ShutdownTimeout   time.Duration `json:"shutdownTimeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Session – lifecycle and reconnect policy
// ---------------------------------------------------------------------------

// SessionConfig configures per-tenant session behaviour.
type SessionConfig struct {
	ReconnectInitial     time.Duration `json:"reconnectInitial" envconfig:"RECONNECT_INITIAL"`
	ReconnectMax         time.Duration `json:"reconnectMax" envconfig:"RECONNECT_MAX"`
	ReconnectMultiplier  float64       `json:"reconnectMultiplier" envconfig:"RECONNECT_MULTIPLIER"`
	ReconnectJitter      float64       `json:"reconnectJitter" envconfig:"RECONNECT_JITTER"`
	MaxReconnectAttempts int           `json:"maxReconnectAttempts" envconfig:"MAX_RECONNECT_ATTEMPTS"`
	CommandTimeout       time.Duration `json:"commandTimeout" envconfig:"COMMAND_TIMEOUT"`
	RestoreOnBoot        bool          `json:"restoreOnBoot" envconfig:"RESTORE_ON_BOOT"`
	SendReadReceipts     bool          `json:"sendReadReceipts" envconfig:"SEND_READ_RECEIPTS"`
}

// ---------------------------------------------------------------------------
// Credentials – persisted channel credential blobs
// ---------------------------------------------------------------------------

// CredentialsConfig selects the credential store backend.
type CredentialsConfig struct {
	// Backend is "file" or "sql".
	Backend string `json:"backend" envconfig:"BACKEND"`
	Dir     string `json:"dir" envconfig:"DIR"`
	// Driver is the database/sql driver for the sql backend: "sqlite" or "sqlite3".
	Driver  string `json:"driver" envconfig:"DRIVER"`
	DSN     string `json:"dsn" envconfig:"DSN"`
	Encrypt bool   `json:"encrypt" envconfig:"ENCRYPT"`
}

// ---------------------------------------------------------------------------
// Audit – command and event records
// ---------------------------------------------------------------------------

// AuditConfig configures the audit recorders.
type AuditConfig struct {
	Enabled   bool   `json:"enabled" envconfig:"ENABLED"`
	DBPath    string `json:"dbPath" envconfig:"DB_PATH"`
	Driver    string `json:"driver" envconfig:"DRIVER"`
	QueueSize int    `json:"queueSize" envconfig:"QUEUE_SIZE"`
}

// KafkaConfig configures the optional Kafka audit sink.
type KafkaConfig struct {
	Enabled bool     `json:"enabled" envconfig:"ENABLED"`
	Brokers []string `json:"brokers" envconfig:"BROKERS"`
	Topic   string   `json:"topic" envconfig:"TOPIC"`
}

// SlackConfig configures the optional Slack alert sink.
type SlackConfig struct {
	Enabled   bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken  string `json:"botToken" envconfig:"BOT_TOKEN"`
	ChannelID string `json:"channelId" envconfig:"CHANNEL_ID"`
	APIBase   string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `json:"level" envconfig:"LEVEL"`
	Format string `json:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: "~/.wagate/data",
		},
		Gateway: GatewayConfig{
			Host:              "127.0.0.1",
			Port:              18890,
			HeartbeatInterval: 25 * time.Second,
			SubscriberBuffer:  64,
			ShutdownTimeout:   10 * time.Second,
		},
		Session: SessionConfig{
			ReconnectInitial:    3 * time.Second,
			ReconnectMax:        60 * time.Second,
			ReconnectMultiplier: 2,
			ReconnectJitter:     0.2,
			CommandTimeout:      30 * time.Second,
			RestoreOnBoot:       true,
			SendReadReceipts:    true,
		},
		Credentials: CredentialsConfig{
			Backend: "file",
			Driver:  "sqlite",
			Encrypt: true,
		},
		Audit: AuditConfig{
			Enabled:   true,
			Driver:    "sqlite",
			QueueSize: 1024,
		},
		Kafka: KafkaConfig{
			Topic: "wagate.audit",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}
