package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/mohammadpnp/cnpj-import/internal/bootstrap"
	"github.com/mohammadpnp/cnpj-import/internal/infrastructure/config"
	"github.com/mohammadpnp/cnpj-import/internal/infrastructure/db/migrations"
	"github.com/mohammadpnp/cnpj-import/internal/infrastructure/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "cnpj-import",
		Short:        "Load the Brazilian CNPJ open data into PostgreSQL",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file")

	cmd.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newMigrateCmd(opts),
		newStatusCmd(opts),
	)
	return cmd
}

// setup loads the configuration and builds the logger. Failures before the
// logger exists go to the standard logger.
func setup(opts *rootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Printf("failed to build logger: %v", err)
		return nil, nil, err
	}
	logger.Info("configuration loaded",
		zap.String("database", cfg.Redacted()),
		zap.String("download_directory", cfg.DownloadDir),
		zap.String("staging_directory", cfg.StagingDir),
		zap.Int("chunk_size", cfg.ChunkSize),
		zap.Int("max_workers", cfg.MaxWorkers),
	)
	return cfg, logger, nil
}

// openMigrated wires the container and applies the schema.
func openMigrated(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*bootstrap.Container, error) {
	container, err := bootstrap.NewContainer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := migrations.Migrate(ctx, container.DB, logger); err != nil {
		container.Close()
		return nil, err
	}
	return container, nil
}
