package main

import (
	"fmt"
	"os"

	"github.com/kursadbilgin/multichannel-notifier/internal/config"
	"github.com/kursadbilgin/multichannel-notifier/internal/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:          "notifier",
	Short:        "Multi-channel notification dispatch and campaign engine",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(providersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}
