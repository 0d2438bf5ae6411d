package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/quatton/qmag/pkg/db/history"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [system]",
	Short: "List recent runs from the history database",
	Args:  cobra.MaximumNArgs(1),
	RunE:  listHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
}

func listHistory(cmd *cobra.Command, args []string) error {
	sdk, err := newSdk(cmd)
	if err != nil {
		return err
	}
	defer sdk.Close()

	if sdk.Config.DB.URL == "" {
		return errors.New("db.url is not configured")
	}
	database, err := sdk.Database(cmd.Context())
	if err != nil {
		return err
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	limit, _ := cmd.Flags().GetInt("limit")

	rows, err := history.NewRecorder(database, history.SourceCLI).Recent(cmd.Context(), name, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, r := range rows {
		mark := okStyle.Render("✓")
		if !r.Success {
			mark = errorStyle.Render("✗")
		}
		fmt.Fprintf(out, "%s %s  %-20s %-7s %-6s exit=%d %8s\n",
			mark, r.StartedAt.Local().Format("2006/01/02 15:04"), r.Name, r.Backend, r.Source,
			r.ExitCode, (time.Duration(r.DurationMS) * time.Millisecond).String())
	}
	return nil
}
