package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mohammadpnp/cnpj-import/internal/bootstrap"
	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"github.com/mohammadpnp/cnpj-import/internal/infrastructure/repository"
	"github.com/spf13/cobra"
)

type executionView struct {
	ID                   string     `json:"id"`
	Host                 string     `json:"host"`
	Status               string     `json:"status"`
	TotalFiles           int64      `json:"total_files"`
	FilesCompleted       int64      `json:"files_completed"`
	TotalRecordsImported int64      `json:"total_records_imported"`
	HasErrors            bool       `json:"has_errors"`
	ErrorDetail          string     `json:"error_detail,omitempty"`
	StartedAt            time.Time  `json:"started_at"`
	FinishedAt           *time.Time `json:"finished_at,omitempty"`
}

type statusView struct {
	LastExecution *executionView   `json:"last_execution"`
	TableCounts   map[string]int64 `json:"table_counts"`
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the latest execution and live table counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := context.Background()
			db, pool, err := bootstrap.OpenDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			exec, err := repository.NewTrackingRepository(db).LatestExecution(ctx)
			if err != nil {
				return err
			}
			counts, err := repository.NewTableStatsRepository(db).LiveCounts(ctx, domain.TargetTableNames())
			if err != nil {
				return err
			}

			view := statusView{TableCounts: counts}
			if exec != nil {
				view.LastExecution = &executionView{
					ID:                   exec.ID,
					Host:                 exec.Host,
					Status:               string(exec.Status),
					TotalFiles:           exec.TotalFiles,
					FilesCompleted:       exec.FilesCompleted,
					TotalRecordsImported: exec.TotalRecordsImported,
					HasErrors:            exec.HasErrors,
					ErrorDetail:          exec.ErrorDetail,
					StartedAt:            exec.StartedAt,
					FinishedAt:           exec.FinishedAt,
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		},
	}
}
