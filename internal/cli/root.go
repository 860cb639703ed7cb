package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/wagate/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		" __      ____ _  __ _  __ _| |_ ___\n" +
		" \\ \\ /\\ / / _` |/ _` |/ _` | __/ _ \\\n" +
		"  \\ V  V / (_| | (_| | (_| | ||  __/\n" +
		"   \\_/\\_/ \\__,_|\\__, |\\__,_|\\__\\___|\n" +
		"                |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "wagate",
	Short: "wagate - multi-tenant WhatsApp gateway",
	Long:  color.CyanString(logo) + "\nOne linked WhatsApp device per tenant, driven over HTTP.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func printHeader(cmd *cobra.Command, title string) {
	fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgCyan, color.Bold).Sprint(title))
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}
