package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// LoadEnvFileCandidates loads environment variables from known files.
// Existing process env vars are never overridden.
func LoadEnvFileCandidates() {
	seen := map[string]struct{}{}
	for _, p := range envFileCandidates() {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		_ = loadEnvFile(abs)
	}
}

func envFileCandidates() []string {
	var out []string
	if explicit := strings.TrimSpace(os.Getenv("WAGATE_ENV_FILE")); explicit != "" {
		out = append(out, explicit)
	}
	if home, err := resolveHomeDir(); err == nil {
		out = append(out,
			filepath.Join(home, ".config", "wagate", "env"),
			filepath.Join(home, ConfigDir, "env"),
		)
	}
	return out
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := parseEnvLine(sc.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return sc.Err()
}

// parseEnvLine accepts KEY=VALUE with an optional "export " prefix and
// optional matching quotes around VALUE.
func parseEnvLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	val = strings.TrimSpace(val)
	if len(val) >= 2 {
		if q := val[0]; (q == '"' || q == '\'') && val[len(val)-1] == q {
			val = val[1 : len(val)-1]
		}
	}
	return key, val, true
}
