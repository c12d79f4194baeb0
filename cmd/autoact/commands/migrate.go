package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autoact/autoact/service/dao/sqlite"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			if config.Database.Path == "" {
				return fmt.Errorf("database.path is required for migrations")
			}
			store, err := sqlite.New(sqlite.Config{Path: config.Database.Path})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			log.Info().Str("path", config.Database.Path).Msg("migrations applied")
			return nil
		},
	}
}
