package cmd

import (
	"errors"

	"github.com/quatton/qmag/pkg/db"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the run history tables",
	Long:  `Apply pending migrations to the database configured by db.url (QMAG_DB_URL).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.DB.URL == "" {
			return errors.New("db.url is not configured")
		}

		database, err := db.New(cmd.Context(), cfg.DB)
		if err != nil {
			return err
		}
		defer database.Close()

		return db.Migrate(cmd.Context(), database, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
