package cli

import (
	"fmt"

	"erp_wa/internal/config"
	"erp_wa/internal/database"
	"erp_wa/internal/logging"

	"github.com/spf13/cobra"
)

func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables and seed the built-in templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFiles(); err != nil {
				return err
			}
			cfg := config.FromEnv()
			log := logging.New(cfg.Log)

			db, err := database.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			if err := database.Migrate(db, cfg.Verification.TemplateCode); err != nil {
				return err
			}

			log.Info().Str("type", cfg.Database.Type).Msg("database migrated")
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
