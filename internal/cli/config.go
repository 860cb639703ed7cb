package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KafClaw/wagate/internal/cliconfig"
	"github.com/KafClaw/wagate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage wagate configuration values",
	Long: `Reads and edits the gateway config file (see "wagate config path").

Paths follow the JSON layout: sections are gateway, session, credentials,
audit, kafka, slack, log and paths; array elements use brackets. WAGATE_*
environment variables (e.g. WAGATE_SESSION_MAX_RECONNECT_ATTEMPTS) override
the file, and "get" reports the effective value after those overrides.
Edits are rejected when they name an unknown key or carry the wrong type.`,
	Example: `  wagate config get session.maxReconnectAttempts
  wagate config set session.maxReconnectAttempts 5
  wagate config set gateway.allowedKeys[0] tenant-a-key
  wagate config set kafka.brokers '["broker-1:9092","broker-2:9092"]'
  wagate config unset slack.channelId`,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := config.ConfigPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:     "get <path>",
	Short:   "Print the effective value at a config path",
	Example: "  wagate config get gateway.port\n  wagate config get kafka",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := cliconfig.Get(args[0])
		if err != nil {
			return err
		}
		switch v := val.(type) {
		case map[string]any, []any:
			out, _ := json.MarshalIndent(v, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
		default:
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:     "set <path> <value>",
	Short:   "Write a value (JSON, or a bare string) at a config path",
	Example: "  wagate config set session.sendReadReceipts false\n  wagate config set log.level debug",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cliconfig.Set(args[0], args[1])
	},
}

var configUnsetCmd = &cobra.Command{
	Use:     "unset <path>",
	Short:   "Remove a config path so its default applies again",
	Example: "  wagate config unset gateway.allowedKeys[0]",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cliconfig.Unset(args[0])
	},
}

func init() {
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	rootCmd.AddCommand(configCmd)
}
