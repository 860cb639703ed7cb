package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setHome(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("WAGATE_HOME", tmp)
	t.Setenv("WAGATE_CONFIG", "")
	t.Setenv("WAGATE_ENV_FILE", "")
	return tmp
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	home := setHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Gateway.Port != 18890 {
		t.Fatalf("expected default port, got %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.HeartbeatInterval != 25*time.Second {
		t.Fatalf("expected 25s heartbeat, got %s", cfg.Gateway.HeartbeatInterval)
	}
	if cfg.Session.ReconnectInitial != 3*time.Second {
		t.Fatalf("expected 3s reconnect delay, got %s", cfg.Session.ReconnectInitial)
	}
	wantData := filepath.Join(home, ".wagate", "data")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("expected data dir %q, got %q", wantData, cfg.Paths.DataDir)
	}
	if cfg.Credentials.Dir != filepath.Join(wantData, "credentials") {
		t.Fatalf("unexpected credentials dir %q", cfg.Credentials.Dir)
	}
	if cfg.Audit.DBPath != filepath.Join(wantData, "audit.db") {
		t.Fatalf("unexpected audit db path %q", cfg.Audit.DBPath)
	}
}

func TestLoadWithIncludeAndEnvSubstitution(t *testing.T) {
	home := setHome(t)
	configDir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	base := `{
		"gateway": { "host": "0.0.0.0", "port": 9000 },
		"credentials": { "backend": "sql" }
	}`
	main := `{
		"$include": "base.json",
		"gateway": { "port": 7777, "adminToken": "${TEST_ADMIN_TOKEN}" }
	}`
	if err := os.WriteFile(filepath.Join(configDir, "base.json"), []byte(base), 0o600); err != nil {
		t.Fatalf("write base config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, ConfigFile), []byte(main), 0o600); err != nil {
		t.Fatalf("write main config: %v", err)
	}
	t.Setenv("TEST_ADMIN_TOKEN", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Gateway.Host != "0.0.0.0" {
		t.Fatalf("expected host from include, got %q", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 7777 {
		t.Fatalf("expected port override, got %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.AdminToken != "s3cret" {
		t.Fatalf("expected substituted admin token, got %q", cfg.Gateway.AdminToken)
	}
	if cfg.Credentials.Backend != "sql" {
		t.Fatalf("expected sql backend, got %q", cfg.Credentials.Backend)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	home := setHome(t)
	configDir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, ConfigFile), []byte(`{"$include":"other.json"}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "other.json"), []byte(`{"$include":"config.json"}`), 0o600); err != nil {
		t.Fatalf("write other: %v", err)
	}
	if _, err := Load(); err == nil {
		t.Fatal("expected include cycle error")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setHome(t)
	t.Setenv("WAGATE_GATEWAY_PORT", "9999")
	t.Setenv("WAGATE_GATEWAY_ALLOWED_KEYS", "tenant-a,tenant-b")
	t.Setenv("WAGATE_SESSION_RECONNECT_INITIAL", "5s")
	t.Setenv("WAGATE_SESSION_MAX_RECONNECT_ATTEMPTS", "4")
	t.Setenv("WAGATE_AUDIT_DRIVER", "mattn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Gateway.Port != 9999 {
		t.Fatalf("expected env port, got %d", cfg.Gateway.Port)
	}
	if len(cfg.Gateway.AllowedKeys) != 2 || cfg.Gateway.AllowedKeys[1] != "tenant-b" {
		t.Fatalf("unexpected allowed keys %v", cfg.Gateway.AllowedKeys)
	}
	if cfg.Session.ReconnectInitial != 5*time.Second {
		t.Fatalf("expected 5s reconnect, got %s", cfg.Session.ReconnectInitial)
	}
	if cfg.Session.MaxReconnectAttempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", cfg.Session.MaxReconnectAttempts)
	}
	if cfg.Audit.Driver != "sqlite3" {
		t.Fatalf("expected sqlite3 driver, got %q", cfg.Audit.Driver)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	setHome(t)
	cfg := DefaultConfig()
	cfg.Gateway.Port = 12345
	if err := Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat saved config: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %o", info.Mode().Perm())
	}
	loaded, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Gateway.Port != 12345 {
		t.Fatalf("expected saved port, got %d", loaded.Gateway.Port)
	}
}
