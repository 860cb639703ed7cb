package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/wagate/internal/cliconfig"
)

var doctorGenerateAdminToken bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run config and setup diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := cliconfig.RunDoctorWithOptions(cliconfig.DoctorOptions{
			GenerateAdminToken: doctorGenerateAdminToken,
		})
		if err != nil {
			return err
		}

		failures := 0
		for _, check := range report.Checks {
			symbol := color.GreenString("PASS")
			if check.Status == cliconfig.DoctorWarn {
				symbol = color.YellowString("WARN")
			}
			if check.Status == cliconfig.DoctorFail {
				symbol = color.RedString("FAIL")
				failures++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", symbol, check.Name, check.Message)
		}

		if failures > 0 {
			return fmt.Errorf("doctor found %d failing check(s)", failures)
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorGenerateAdminToken, "generate-admin-token", false, "Generate and persist a new gateway admin token")
	rootCmd.AddCommand(doctorCmd)
}
