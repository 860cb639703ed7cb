// Package cliconfig holds configuration checks and fixes used by the CLI.
package cliconfig

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/KafClaw/wagate/internal/config"
)

type DoctorStatus string

const (
	DoctorPass DoctorStatus = "pass"
	DoctorWarn DoctorStatus = "warn"
	DoctorFail DoctorStatus = "fail"
)

type DoctorCheck struct {
	Name    string
	Status  DoctorStatus
	Message string
}

type DoctorReport struct {
	Checks []DoctorCheck
}

type DoctorOptions struct {
	// GenerateAdminToken writes a fresh gateway.adminToken to the config file.
	GenerateAdminToken bool
}

func (r DoctorReport) HasFailures() bool {
	for _, c := range r.Checks {
		if c.Status == DoctorFail {
			return true
		}
	}
	return false
}

func (r *DoctorReport) add(name string, status DoctorStatus, format string, args ...any) {
	r.Checks = append(r.Checks, DoctorCheck{Name: name, Status: status, Message: fmt.Sprintf(format, args...)})
}

func RunDoctor() (DoctorReport, error) {
	return RunDoctorWithOptions(DoctorOptions{})
}

func RunDoctorWithOptions(opts DoctorOptions) (DoctorReport, error) {
	report := DoctorReport{Checks: make([]DoctorCheck, 0, 10)}

	cfgPath, err := config.ConfigPath()
	if err != nil {
		report.add("config_path", DoctorFail, "cannot resolve config path: %v", err)
		return report, nil
	}
	if _, err := os.Stat(cfgPath); err != nil {
		if os.IsNotExist(err) {
			report.add("config_file", DoctorWarn, "config file not found at %s (defaults will be used)", cfgPath)
		} else {
			report.add("config_file", DoctorFail, "cannot access config file: %v", err)
		}
	} else {
		report.add("config_file", DoctorPass, "config file found at %s", cfgPath)
	}

	cfg, err := config.Load()
	if err != nil {
		report.add("config_load", DoctorFail, "config load failed: %v", err)
		return report, nil
	}
	report.add("config_load", DoctorPass, "config loaded successfully")

	if opts.GenerateAdminToken {
		token, err := randomToken()
		switch {
		case err != nil:
			report.add("admin_token", DoctorFail, "failed to generate token: %v", err)
		default:
			cfg.Gateway.AdminToken = token
			if err := config.Save(cfg); err != nil {
				report.add("admin_token", DoctorFail, "generated token but failed to save config: %v", err)
			} else {
				report.add("admin_token", DoctorPass, "generated and saved gateway admin token")
			}
		}
	}

	checkDataDir(&report, cfg.Paths.DataDir)
	checkGateway(&report, cfg)
	checkCredentials(&report, cfg)
	checkSinks(&report, cfg)
	return report, nil
}

func checkDataDir(report *DoctorReport, dir string) {
	if strings.TrimSpace(dir) == "" {
		report.add("data_dir", DoctorFail, "paths.dataDir is empty")
		return
	}
	if err := config.EnsureDir(dir); err != nil {
		report.add("data_dir", DoctorFail, "cannot create %s: %v", dir, err)
		return
	}
	marker := filepath.Join(dir, ".doctor-marker")
	if err := os.WriteFile(marker, []byte("ok"), 0o600); err != nil {
		report.add("data_dir", DoctorFail, "%s is not writable: %v", dir, err)
		return
	}
	_ = os.Remove(marker)
	report.add("data_dir", DoctorPass, "data dir: %s", dir)
}

func checkGateway(report *DoctorReport, cfg *config.Config) {
	exposed := !isLoopbackHost(cfg.Gateway.Host)
	switch {
	case exposed && len(cfg.Gateway.AllowedKeys) == 0:
		report.add("gateway_exposure", DoctorFail, "gateway.host %s is reachable from the network but gateway.allowedKeys is empty", cfg.Gateway.Host)
	case exposed:
		report.add("gateway_exposure", DoctorWarn, "gateway.host %s is non-loopback; %d api key(s) allowed", cfg.Gateway.Host, len(cfg.Gateway.AllowedKeys))
	default:
		report.add("gateway_exposure", DoctorPass, "gateway.host is loopback (%s)", cfg.Gateway.Host)
	}
	if strings.TrimSpace(cfg.Gateway.AdminToken) == "" {
		report.add("admin_token", DoctorWarn, "gateway.adminToken is empty; /api/v1/sessions is disabled")
	}
}

func checkCredentials(report *DoctorReport, cfg *config.Config) {
	switch cfg.Credentials.Backend {
	case "file":
		report.add("credentials_backend", DoctorPass, "file backend in %s", cfg.Credentials.Dir)
	case "sql":
		report.add("credentials_backend", DoctorPass, "sql backend (%s) at %s", cfg.Credentials.Driver, cfg.Credentials.DSN)
	default:
		report.add("credentials_backend", DoctorFail, "unknown credentials.backend %q", cfg.Credentials.Backend)
	}
	if !cfg.Credentials.Encrypt {
		report.add("credentials_encryption", DoctorWarn, "credentials are stored unencrypted")
	}
}

func checkSinks(report *DoctorReport, cfg *config.Config) {
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 || strings.TrimSpace(cfg.Kafka.Topic) == "" {
			report.add("kafka_audit", DoctorFail, "kafka.enabled requires kafka.brokers and kafka.topic")
		} else {
			report.add("kafka_audit", DoctorPass, "publishing audit entries to %s", cfg.Kafka.Topic)
		}
	}
	if cfg.Slack.Enabled {
		if strings.TrimSpace(cfg.Slack.BotToken) == "" || strings.TrimSpace(cfg.Slack.ChannelID) == "" {
			report.add("slack_alerts", DoctorFail, "slack.enabled requires slack.botToken (or SLACK_BOT_TOKEN) and slack.channelId")
		} else {
			report.add("slack_alerts", DoctorPass, "alerts go to channel %s", cfg.Slack.ChannelID)
		}
	}
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "" {
		return false
	}
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
