package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/wagate/internal/audit"
	"github.com/KafClaw/wagate/internal/config"
)

var (
	auditTenant string
	auditKind   string
	auditSince  time.Duration
	auditLimit  int
	auditJSON   bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the local audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent audit entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if _, err := os.Stat(cfg.Audit.DBPath); os.IsNotExist(err) {
			return fmt.Errorf("no audit database at %s", cfg.Audit.DBPath)
		}
		store, err := audit.OpenStore(cfg.Audit.Driver, cfg.Audit.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		f := audit.Filter{TenantID: auditTenant, Kind: auditKind, Limit: auditLimit}
		if auditSince > 0 {
			since := time.Now().Add(-auditSince)
			f.Since = &since
		}
		entries, err := store.List(cmd.Context(), f)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if auditJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		printHeader(cmd, "Audit log")
		if len(entries) == 0 {
			fmt.Fprintln(out, "(no entries)")
			return nil
		}
		for _, e := range entries {
			status := color.GreenString(e.Status)
			if e.Status != audit.StatusOK {
				status = color.RedString(e.Status)
			}
			fmt.Fprintf(out, "%s  %-20s %-28s %s", e.Timestamp.Local().Format(time.DateTime), e.TenantID, e.Kind, status)
			if e.Error != "" {
				fmt.Fprintf(out, "  %s", e.Error)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditTenant, "tenant", "", "Only entries for this tenant")
	auditListCmd.Flags().StringVar(&auditKind, "kind", "", "Only entries of this kind (e.g. command.sendText)")
	auditListCmd.Flags().DurationVar(&auditSince, "since", 0, "Only entries newer than this duration (e.g. 24h)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "Maximum entries to print")
	auditListCmd.Flags().BoolVar(&auditJSON, "json", false, "Print entries as JSON")
	auditCmd.AddCommand(auditListCmd)
	rootCmd.AddCommand(auditCmd)
}
