package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFileParsesAndRespectsExistingValues(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, "env")
	content := `
# comment
export WAGATE_TEST_FOO=bar
WAGATE_TEST_QUOTED="hello world"
WAGATE_TEST_SINGLE='x y'
INVALID_LINE
`
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("WAGATE_TEST_FOO", "existing")
	t.Setenv("WAGATE_TEST_QUOTED", "")
	os.Unsetenv("WAGATE_TEST_QUOTED")
	t.Setenv("WAGATE_TEST_SINGLE", "")
	os.Unsetenv("WAGATE_TEST_SINGLE")

	if err := loadEnvFile(envPath); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("WAGATE_TEST_FOO"); got != "existing" {
		t.Fatalf("expected existing value preserved, got %q", got)
	}
	if got := os.Getenv("WAGATE_TEST_QUOTED"); got != "hello world" {
		t.Fatalf("expected quoted value loaded, got %q", got)
	}
	if got := os.Getenv("WAGATE_TEST_SINGLE"); got != "x y" {
		t.Fatalf("expected single-quoted value loaded, got %q", got)
	}
}

func TestParseEnvLine(t *testing.T) {
	cases := []struct {
		line    string
		key     string
		val     string
		matched bool
	}{
		{"A=1", "A", "1", true},
		{"export B = two ", "B", "two", true},
		{`C="mismatched'`, "C", `"mismatched'`, true},
		{"# D=4", "", "", false},
		{"=nokey", "", "", false},
		{"novalue", "", "", false},
	}
	for _, tc := range cases {
		key, val, ok := parseEnvLine(tc.line)
		if ok != tc.matched || key != tc.key || val != tc.val {
			t.Fatalf("parseEnvLine(%q) = %q,%q,%v", tc.line, key, val, ok)
		}
	}
}

func TestLoadEnvFileCandidatesFromExplicitPath(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("WAGATE_HOME", tmp)
	envPath := filepath.Join(tmp, "wagate.env")
	if err := os.WriteFile(envPath, []byte("WAGATE_TEST_EXPLICIT=42\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("WAGATE_ENV_FILE", envPath)
	t.Setenv("WAGATE_TEST_EXPLICIT", "")
	os.Unsetenv("WAGATE_TEST_EXPLICIT")

	LoadEnvFileCandidates()

	if got := os.Getenv("WAGATE_TEST_EXPLICIT"); got != "42" {
		t.Fatalf("expected explicit env file loaded, got %q", got)
	}
}
