package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/wagate/internal/config"
	"github.com/KafClaw/wagate/internal/session"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader(cmd, "wagate")
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\n", version)
	},
}

var statusURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List sessions of a running gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		base := strings.TrimRight(statusURL, "/")
		if base == "" {
			base = "http://" + net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
		}
		if cfg.Gateway.AdminToken == "" {
			return fmt.Errorf("gateway.adminToken is not configured (run 'wagate doctor --generate-admin-token')")
		}

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, base+"/api/v1/sessions", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+cfg.Gateway.AdminToken)
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("gateway unreachable at %s: %w", base, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("gateway returned %s", resp.Status)
		}
		var body struct {
			Sessions []session.Status `json:"sessions"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("decode sessions: %w", err)
		}

		printHeader(cmd, "Sessions")
		out := cmd.OutOrStdout()
		if len(body.Sessions) == 0 {
			fmt.Fprintln(out, "(none)")
			return nil
		}
		for _, s := range body.Sessions {
			fmt.Fprintf(out, "%-24s %s %s\n", s.TenantID, stateColor(s.State), s.Self)
		}
		return nil
	},
}

func stateColor(state string) string {
	switch state {
	case "connected":
		return color.GreenString("%-12s", state)
	case "linking", "reconnecting":
		return color.YellowString("%-12s", state)
	default:
		return color.RedString("%-12s", state)
	}
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "", "Gateway base URL (default from config)")
	rootCmd.AddCommand(statusCmd)
}
