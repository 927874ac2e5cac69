package main

import (
	"github.com/kursadbilgin/multichannel-notifier/internal/infra/postgresql"
	"github.com/kursadbilgin/multichannel-notifier/internal/infra/postgresql/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateRollback bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateRollback, "rollback", false, "Roll back the last applied migration")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cmd.Context(), cfg.DatabaseDSN, postgresql.PoolOptions{})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if migrateRollback {
		if err := migrations.RollbackLast(db); err != nil {
			return err
		}
		logger.Info("rolled back last migration")
		return nil
	}

	if err := migrations.Migrate(db); err != nil {
		return err
	}
	logger.Info("database migrations applied", zap.Int("count", len(migrations.All())))
	return nil
}
