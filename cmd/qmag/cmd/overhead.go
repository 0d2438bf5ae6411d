package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var overheadCmd = &cobra.Command{
	Use:   "overhead",
	Short: "Measure how long a trivial simulation takes on a backend",
	Long: `Run a single-cell macrospin example and report the wall time. The result is
dominated by backend startup: process launch, container creation or the
remote round trip.`,
	RunE: overhead,
}

func init() {
	rootCmd.AddCommand(overheadCmd)
	overheadCmd.Flags().String("runner", "", "Backend to measure (default from config)")
}

func overhead(cmd *cobra.Command, args []string) error {
	sdk, err := newSdk(cmd)
	if err != nil {
		return err
	}
	defer sdk.Close()

	runner, err := sdk.Runner("")
	if err != nil {
		return err
	}
	driver, err := sdk.Driver(cmd.Context(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	o, err := driver.MeasureOverhead(cmd.Context(), runner)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), field("backend", o.Backend))
	fmt.Fprintln(cmd.OutOrStdout(), field("overhead", fmt.Sprintf("%.2f s", o.Duration.Seconds())))
	fmt.Fprintln(cmd.OutOrStdout(), field("mif", o.MIFPath))
	return nil
}
