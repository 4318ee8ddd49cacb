package main

import (
	"context"

	"github.com/mohammadpnp/cnpj-import/internal/bootstrap"
	"github.com/mohammadpnp/cnpj-import/internal/infrastructure/db/migrations"
	"github.com/spf13/cobra"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the target and tracking tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root)
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, pool, err := bootstrap.OpenDatabase(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			return migrations.Migrate(context.Background(), db, logger)
		},
	}
}
