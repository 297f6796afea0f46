package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stadspuls/eventpipe/internal/config"
	"github.com/stadspuls/eventpipe/internal/database"
	"github.com/stadspuls/eventpipe/internal/logger"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			log, err := logger.New(&logger.Config{
				Level:       cfg.Logging.Level,
				Encoding:    cfg.Logging.Encoding,
				Development: cfg.Logging.Development,
			})
			if err != nil {
				return err
			}

			db, err := database.NewPostgresConnection(database.Config{
				URL:     cfg.Database.URL,
				Host:    cfg.Database.Host,
				Port:    cfg.Database.Port,
				User:    cfg.Database.User,
				Pass:    cfg.Database.Pass,
				Name:    cfg.Database.Name,
				SSLMode: cfg.Database.SSLMode,
			})
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.Migrate(db); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}
}
