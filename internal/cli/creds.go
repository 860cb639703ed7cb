package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/KafClaw/wagate/internal/config"
	"github.com/KafClaw/wagate/internal/credstore"
	"github.com/KafClaw/wagate/internal/whatsapp"
)

var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Inspect and remove stored tenant credentials",
}

var credsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants with stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCreds(func(cfg *config.Config, store credstore.Store) error {
			tenants, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			printHeader(cmd, "Stored credentials")
			out := cmd.OutOrStdout()
			if len(tenants) == 0 {
				fmt.Fprintln(out, "(none)")
				return nil
			}
			for _, t := range tenants {
				fmt.Fprintln(out, t)
			}
			return nil
		})
	},
}

var credsDeleteCmd = &cobra.Command{
	Use:   "delete <tenant>",
	Short: "Delete a tenant's credentials and local device state",
	Long:  "Deletes the stored credential blob and the local device database. The linked device stays registered on the phone until it is removed there; prefer the logout endpoint while the gateway runs.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant := strings.TrimSpace(args[0])
		if tenant == "" {
			return fmt.Errorf("tenant is required")
		}
		return withCreds(func(cfg *config.Config, store credstore.Store) error {
			return deleteTenant(cmd.Context(), store, whatsapp.NewOpener(deviceDir(cfg), zerolog.Nop()), tenant)
		})
	},
}

func deleteTenant(ctx context.Context, store credstore.Store, opener *whatsapp.Opener, tenant string) error {
	if err := store.Delete(ctx, tenant); err != nil && !errors.Is(err, credstore.ErrNotFound) {
		return err
	}
	return opener.Forget(tenant)
}

func withCreds(fn func(*config.Config, credstore.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	store, closeStore, err := credstore.Open(cfg.Credentials)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(cfg, store)
}

func init() {
	credsCmd.AddCommand(credsListCmd)
	credsCmd.AddCommand(credsDeleteCmd)
	rootCmd.AddCommand(credsCmd)
}
