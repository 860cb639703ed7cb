package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/KafClaw/wagate/internal/config"
)

func TestSetupJSONWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(config.LogConfig{Level: "debug", Format: "auto"}, &buf, false)
	component := Component(logger, "session")
	component.Debug().Str("tenant", "t1").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json output, got %q: %v", buf.String(), err)
	}
	if line["component"] != "session" || line["tenant"] != "t1" || line["app"] != "wagate" {
		t.Fatalf("unexpected fields: %v", line)
	}
}

func TestSetupLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(config.LogConfig{Level: "warn", Format: "json"}, &buf, true)
	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")
	if strings.Contains(buf.String(), "dropped") {
		t.Fatalf("info line should be filtered: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}

func TestSetupConsoleOnTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := setup(config.LogConfig{Level: "bogus", Format: "auto"}, &buf, true)
	logger.Info().Msg("pretty")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
}
