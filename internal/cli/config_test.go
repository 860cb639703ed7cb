package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KafClaw/wagate/internal/config"
)

func runRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	rootCmd.SetArgs(nil)
	return strings.TrimSpace(buf.String()), err
}

func setHome(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("WAGATE_HOME", tmp)
	t.Setenv("WAGATE_CONFIG", "")
	t.Setenv("WAGATE_ENV_FILE", "")
	t.Setenv("WAGATE_MASTER_KEY", "")
	t.Setenv("WAGATE_KEY_BACKEND", "file")
	return tmp
}

func TestConfigSetGetUnsetCommands(t *testing.T) {
	home := setHome(t)
	cfgDir := filepath.Join(home, config.ConfigDir)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, config.ConfigFile), []byte(`{"gateway":{"port":18890}}`), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if _, err := runRootCommand(t, "config", "set", "gateway.port", "18888"); err != nil {
		t.Fatalf("config set failed: %v", err)
	}

	out, err := runRootCommand(t, "config", "get", "gateway.port")
	if err != nil {
		t.Fatalf("config get failed: %v", err)
	}
	if out != "18888" {
		t.Fatalf("expected 18888, got %q", out)
	}

	if _, err := runRootCommand(t, "config", "set", "gateway.allowedKeys[0]", `"alice"`); err != nil {
		t.Fatalf("config set bracket path failed: %v", err)
	}
	out, err = runRootCommand(t, "config", "get", "gateway.allowedKeys")
	if err != nil {
		t.Fatalf("config get array failed: %v", err)
	}
	var keys []string
	if err := json.Unmarshal([]byte(out), &keys); err != nil || len(keys) != 1 || keys[0] != "alice" {
		t.Fatalf("unexpected allowedKeys output %q (%v)", out, err)
	}

	if _, err := runRootCommand(t, "config", "unset", "gateway.allowedKeys[0]"); err != nil {
		t.Fatalf("config unset failed: %v", err)
	}
	if _, err := runRootCommand(t, "config", "get", "gateway.allowedKeys[0]"); err == nil {
		t.Fatal("expected get of removed value to fail")
	}

	if _, err := runRootCommand(t, "config", "set", "gateway.nope", "1"); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestConfigPathCommand(t *testing.T) {
	home := setHome(t)
	out, err := runRootCommand(t, "config", "path")
	if err != nil {
		t.Fatalf("config path failed: %v", err)
	}
	if out != filepath.Join(home, config.ConfigDir, config.ConfigFile) {
		t.Fatalf("unexpected path %q", out)
	}
}

func TestConfigSessionKeyWithEnvOverride(t *testing.T) {
	setHome(t)
	if _, err := runRootCommand(t, "config", "set", "session.maxReconnectAttempts", "5"); err != nil {
		t.Fatalf("config set failed: %v", err)
	}
	out, err := runRootCommand(t, "config", "get", "session.maxReconnectAttempts")
	if err != nil || out != "5" {
		t.Fatalf("expected 5, got %q (%v)", out, err)
	}

	t.Setenv("WAGATE_SESSION_MAX_RECONNECT_ATTEMPTS", "7")
	out, err = runRootCommand(t, "config", "get", "session.maxReconnectAttempts")
	if err != nil || out != "7" {
		t.Fatalf("expected env override 7, got %q (%v)", out, err)
	}

	if _, err := runRootCommand(t, "config", "set", "session.maxReconnectAttempts", `"many"`); err == nil {
		t.Fatal("expected a string to be rejected for an integer key")
	}
}

func TestConfigHelpNamesGatewayKeys(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"config"})
	if err != nil {
		t.Fatalf("find config command: %v", err)
	}
	for _, want := range []string{"session.maxReconnectAttempts", "gateway.allowedKeys[0]", "kafka.brokers"} {
		if !strings.Contains(cmd.Example, want) {
			t.Fatalf("config examples should mention %s:\n%s", want, cmd.Example)
		}
	}
	if !strings.Contains(cmd.Long, "WAGATE_SESSION_MAX_RECONNECT_ATTEMPTS") {
		t.Fatalf("config help should describe env overrides:\n%s", cmd.Long)
	}
}
