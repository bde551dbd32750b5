package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"conversation-service/internal/config"
	"conversation-service/internal/db"
	"conversation-service/internal/observability"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Driver != config.DriverPostgres {
			return errors.New("migrate requires database.driver=postgres")
		}
		logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		database, err := db.Connect(cmd.Context(), cfg.Database.DSN, 1)
		if err != nil {
			return err
		}
		defer database.Close()
		return db.Migrate(cmd.Context(), database, logger)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
