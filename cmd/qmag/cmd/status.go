package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/quatton/qmag/pkg/qerr"
	"github.com/quatton/qmag/pkg/qrunner"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check which backends can run simulations",
	Long: `Check every backend and print whether it is usable, with a hint for the
ones that are not. Remote and Kubernetes are only checked when configured.`,
	RunE: status,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func status(cmd *cobra.Command, args []string) error {
	sdk, err := newSdk(cmd)
	if err != nil {
		return err
	}
	defer sdk.Close()

	platform := sdk.Platform()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("qmag backends"))
	fmt.Fprintln(out, field("platform", platform.OS))

	backends := []string{string(qrunner.BackendLocal), string(qrunner.BackendDocker)}
	if sdk.Config.Remote.URL != "" {
		backends = append(backends, string(qrunner.BackendRemote))
	}
	if sdk.Config.K8s.Kubeconfig != "" || sdk.Config.Runner == string(qrunner.BackendK8s) {
		backends = append(backends, string(qrunner.BackendK8s))
	}

	for _, name := range backends {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		err := checkBackend(ctx, sdk.Runner, name)
		cancel()

		if err == nil {
			fmt.Fprintln(out, field(name, okStyle.Render("✓ available")))
			continue
		}
		fmt.Fprintln(out, field(name, errorStyle.Render("✗ ")+err.Error()))
		if hint := qerr.HintOf(err); hint != "" {
			fmt.Fprintln(out, field("", hintStyle.Render(hint)))
		}
	}
	return nil
}

func checkBackend(ctx context.Context, build func(string) (qrunner.Runner, error), name string) error {
	runner, err := build(name)
	if err != nil {
		return err
	}
	checker, ok := runner.(qrunner.Checker)
	if !ok {
		return nil
	}
	return checker.Check(ctx)
}
