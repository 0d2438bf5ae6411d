package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/quatton/qmag/pkg/qlog"
	"github.com/quatton/qmag/pkg/qsdk"
	"github.com/spf13/cobra"
)

type contextKey string

const (
	configContextKey contextKey = "qmagconfig"
	loggerContextKey contextKey = "qmaglogger"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	rootCmd = &cobra.Command{
		Use:   "qmag",
		Short: "Run OOMMF simulations on local, container, remote or Kubernetes backends",
		Long: `qmag drives OOMMF micromagnetic simulations. A MIF script is placed in its
own job directory and executed by one of several interchangeable backends:
the native oommf binary, a Docker container, a remote qmag server, or a
Kubernetes Job. Without --runner the backend is picked from the energy terms
the script uses and what this host supports.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := qsdk.LoadConfig(cfgFile)
			if err != nil {
				return err
			}

			if err := cfg.Viper().BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if err := cfg.Refresh(); err != nil {
				return err
			}

			logger := qlog.NewDefault()
			switch {
			case verbose:
				logger = qlog.NewVerbose()
			case quiet:
				logger = qlog.NewQuiet()
			}

			ctx := context.WithValue(cmd.Context(), configContextKey, cfg)
			ctx = context.WithValue(ctx, loggerContextKey, logger)
			cmd.SetContext(ctx)

			return nil
		},
	}
)

// GetConfig retrieves the Config from the command context
func GetConfig(cmd *cobra.Command) (*qsdk.Config, error) {
	ctx := cmd.Context()
	cfg, ok := ctx.Value(configContextKey).(*qsdk.Config)
	if !ok {
		return nil, errors.New("no config in context")
	}
	return cfg, nil
}

// GetLogger retrieves the logger from the command context
func GetLogger(cmd *cobra.Command) *qlog.Logger {
	if l, ok := cmd.Context().Value(loggerContextKey).(*qlog.Logger); ok {
		return l
	}
	return qlog.NewDefault()
}

// newSdk builds an Sdk from the command's config.
func newSdk(cmd *cobra.Command) (*qsdk.Sdk, error) {
	cfg, err := GetConfig(cmd)
	if err != nil {
		return nil, err
	}
	return qsdk.New(cfg, GetLogger(cmd)), nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		exitIfError(err)
	}
	os.Exit(0)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML). Searches: qmag.yaml, .qmag/config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log errors")
}
