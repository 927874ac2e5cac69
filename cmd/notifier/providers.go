package main

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/multichannel-notifier/internal/infra/postgresql"
	"github.com/kursadbilgin/multichannel-notifier/internal/provider"
	"github.com/kursadbilgin/multichannel-notifier/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var providersFile string

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage provider configuration",
}

var providersSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upsert providers from a YAML file",
	RunE:  runProvidersSync,
}

func init() {
	providersSyncCmd.Flags().StringVarP(&providersFile, "file", "f", "", "Providers YAML file (defaults to PROVIDERS_FILE)")
	providersCmd.AddCommand(providersSyncCmd)
}

func runProvidersSync(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	path := providersFile
	if path == "" {
		path = cfg.ProvidersFile
	}
	if path == "" {
		return fmt.Errorf("no providers file given: use --file or PROVIDERS_FILE")
	}

	db, err := postgresql.NewPostgres(cmd.Context(), cfg.DatabaseDSN, postgresql.PoolOptions{})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	n, err := syncProviders(cmd.Context(), repository.NewGormProviderRepo(db), path)
	if err != nil {
		return err
	}
	logger.Info("providers synced", zap.String("file", path), zap.Int("count", n))
	return nil
}

func syncProviders(ctx context.Context, repo repository.ProviderRepository, path string) (int, error) {
	providers, err := provider.LoadSeedFile(path)
	if err != nil {
		return 0, err
	}
	for i := range providers {
		if err := repo.Upsert(ctx, &providers[i]); err != nil {
			return i, fmt.Errorf("failed to upsert provider %s/%s: %w", providers[i].Channel, providers[i].Name, err)
		}
	}
	return len(providers), nil
}
