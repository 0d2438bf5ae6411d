package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/quatton/qmag/pkg/qdriver"
	"github.com/quatton/qmag/pkg/qrunner"
	"github.com/quatton/qmag/pkg/qsdk"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <script.mif> [data files...]",
	Short: "Run a MIF script with boxsi on the selected backend",
	Long: `Run a MIF script in a fresh job directory under baseDir.

Extra arguments are data files (for example OVF fields) copied next to the
script. Without --runner, the local oommf is used when it exists and supports
every --term; otherwise the Docker runner is used.

Examples:
  qmag run sim.mif
  qmag run sim.mif m0.omf --runner docker --timeout 30m
  qmag run skyrmion.mif --term exchange --term dmi_cnv --term zeeman`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScript,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String(qsdk.RunnerKey, "", "Backend: auto, local, docker, remote or k8s (default from config)")
	runCmd.Flags().Duration(qsdk.TimeoutKey, 0, "Abort the run after this long (0 = no timeout)")
	runCmd.Flags().StringSlice("term", nil, "Energy or dynamics term used by the script, for backend selection")
	runCmd.Flags().String("name", "", "System name (default: script basename)")
	runCmd.Flags().Bool("stream", false, "Stream OOMMF output while it runs")
}

func runScript(cmd *cobra.Command, args []string) error {
	sdk, err := newSdk(cmd)
	if err != nil {
		return err
	}
	defer sdk.Close()

	sys, err := loadSystem(args[0], args[1:])
	if err != nil {
		return err
	}
	if name, _ := cmd.Flags().GetString("name"); name != "" {
		sys.Name = name
	}
	sys.Terms, _ = cmd.Flags().GetStringSlice("term")
	sys.Env = sdk.Config.Env

	if stream, _ := cmd.Flags().GetBool("stream"); stream {
		sdk.Stdout = cmd.OutOrStdout()
		sdk.Stderr = cmd.ErrOrStderr()
	}

	runner, err := sdk.Runner("")
	if err != nil {
		return err
	}

	driver, err := sdk.Driver(cmd.Context(), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	result, err := driver.Drive(cmd.Context(), sys, runner, sdk.Config.Timeout)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderResult(sys, result, sdk.Config))
	return nil
}

// loadSystem reads a MIF script and its data files into a System named
// after the script.
func loadSystem(script string, dataFiles []string) (qdriver.System, error) {
	src, err := os.ReadFile(script)
	if err != nil {
		return qdriver.System{}, fmt.Errorf("reading script: %w", err)
	}

	sys := qdriver.System{
		Name:   strings.TrimSuffix(filepath.Base(script), filepath.Ext(script)),
		Script: string(src),
	}
	if len(dataFiles) > 0 {
		sys.Files = make(map[string][]byte, len(dataFiles))
	}
	for _, f := range dataFiles {
		data, err := os.ReadFile(f)
		if err != nil {
			return qdriver.System{}, fmt.Errorf("reading data file: %w", err)
		}
		sys.Files[filepath.Base(f)] = data
	}
	return sys, nil
}

func renderResult(sys qdriver.System, result *qrunner.RunResult, cfg *qsdk.Config) string {
	baseDir, _ := cfg.ResolveBaseDir()
	lines := []string{
		titleStyle.Render(sys.Name) + " " + okStyle.Render("✓ done"),
		field("backend", result.Backend),
		field("job", result.JobID),
		field("duration", result.Duration.Round(time.Millisecond).String()),
		field("dir", filepath.Join(baseDir, sys.Name, result.JobID)),
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
