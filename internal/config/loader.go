package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".wagate"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("WAGATE_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("WAGATE_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load process env vars from ~/.config/wagate/env (and fallbacks) first.
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}

	data, err := readLayered(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	groups := []struct {
		prefix string
		spec   any
	}{
		{"WAGATE_PATHS", &cfg.Paths},
		{"WAGATE_GATEWAY", &cfg.Gateway},
		{"WAGATE_SESSION", &cfg.Session},
		{"WAGATE_CREDENTIALS", &cfg.Credentials},
		{"WAGATE_AUDIT", &cfg.Audit},
		{"WAGATE_KAFKA", &cfg.Kafka},
		{"WAGATE_SLACK", &cfg.Slack},
		{"WAGATE_LOG", &cfg.Log},
	}
	for _, g := range groups {
		if err := envconfig.Process(g.prefix, g.spec); err != nil {
			return nil, fmt.Errorf("env %s: %w", g.prefix, err)
		}
	}

	if cfg.Slack.BotToken == "" {
		cfg.Slack.BotToken = os.Getenv("SLACK_BOT_TOKEN")
	}

	expandHome := func(p *string) {
		if strings.HasPrefix(*p, "~") {
			if home, err := resolveHomeDir(); err == nil {
				*p = filepath.Join(home, (*p)[1:])
			}
		}
	}
	expandHome(&cfg.Paths.DataDir)
	if cfg.Credentials.Dir == "" {
		cfg.Credentials.Dir = filepath.Join(cfg.Paths.DataDir, "credentials")
	}
	if cfg.Credentials.DSN == "" {
		cfg.Credentials.DSN = filepath.Join(cfg.Paths.DataDir, "credentials.db")
	}
	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = filepath.Join(cfg.Paths.DataDir, "audit.db")
	}
	expandHome(&cfg.Credentials.Dir)
	expandHome(&cfg.Credentials.DSN)
	expandHome(&cfg.Audit.DBPath)

	normalize(cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	def := DefaultConfig()
	switch strings.ToLower(strings.TrimSpace(cfg.Credentials.Backend)) {
	case "sql", "sqlite":
		cfg.Credentials.Backend = "sql"
	default:
		cfg.Credentials.Backend = "file"
	}
	for _, d := range []*string{&cfg.Credentials.Driver, &cfg.Audit.Driver} {
		switch strings.ToLower(strings.TrimSpace(*d)) {
		case "sqlite3", "mattn":
			*d = "sqlite3"
		default:
			*d = "sqlite"
		}
	}
	if cfg.Gateway.HeartbeatInterval <= 0 {
		cfg.Gateway.HeartbeatInterval = def.Gateway.HeartbeatInterval
	}
	if cfg.Gateway.SubscriberBuffer <= 0 {
		cfg.Gateway.SubscriberBuffer = def.Gateway.SubscriberBuffer
	}
	if cfg.Gateway.ShutdownTimeout <= 0 {
		cfg.Gateway.ShutdownTimeout = def.Gateway.ShutdownTimeout
	}
	if cfg.Session.ReconnectInitial <= 0 {
		cfg.Session.ReconnectInitial = def.Session.ReconnectInitial
	}
	if cfg.Session.ReconnectMax < cfg.Session.ReconnectInitial {
		cfg.Session.ReconnectMax = cfg.Session.ReconnectInitial
	}
	if cfg.Session.ReconnectMultiplier < 1 {
		cfg.Session.ReconnectMultiplier = 1
	}
	if cfg.Session.ReconnectJitter < 0 || cfg.Session.ReconnectJitter >= 1 {
		cfg.Session.ReconnectJitter = def.Session.ReconnectJitter
	}
	if cfg.Session.MaxReconnectAttempts < 0 {
		cfg.Session.MaxReconnectAttempts = 0
	}
	if cfg.Session.CommandTimeout <= 0 {
		cfg.Session.CommandTimeout = def.Session.CommandTimeout
	}
	if cfg.Audit.QueueSize <= 0 {
		cfg.Audit.QueueSize = def.Audit.QueueSize
	}
	if strings.TrimSpace(cfg.Kafka.Topic) == "" {
		cfg.Kafka.Topic = def.Kafka.Topic
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0700)
}
