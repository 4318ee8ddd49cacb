package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammadpnp/cnpj-import/internal/application/ingest"
	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runOptions struct {
	noDownload bool
	noImport   bool
	tables     []string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion in the foreground",
		Long: "Run one ingestion in the foreground. The first interrupt stops the run " +
			"after the current chunk; a second one cancels it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(root, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.noDownload, "no-download", false, "Use the archives already in the download directory")
	cmd.Flags().BoolVar(&opts.noImport, "no-import", false, "Only download archives")
	cmd.Flags().StringSliceVar(&opts.tables, "tables", nil, "Tables to load, auxiliary tables are added when needed")
	return cmd
}

func runOnce(root *rootOptions, opts *runOptions) error {
	cfg, logger, err := setup(root)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := openMigrated(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer container.Close()

	runOpts := container.RunDefaults()
	if opts.noDownload {
		runOpts.Download = false
	}
	if opts.noImport {
		runOpts.Import = false
	}
	if !runOpts.Download && !runOpts.Import {
		return fmt.Errorf("%w: download and import are both disabled", ingest.ErrInvalidRunRequest)
	}
	for _, name := range opts.tables {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, ok := domain.TableByName(name); !ok {
			return fmt.Errorf("%w: unknown table %q", ingest.ErrInvalidRunRequest, name)
		}
		runOpts.Tables = append(runOpts.Tables, name)
	}

	stop := ingest.NewStopFlag()
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case <-signals:
			logger.Info("interrupt received, stopping after the current chunk")
			stop.Request()
		case <-ctx.Done():
			return
		}
		select {
		case <-signals:
			logger.Warn("second interrupt received, cancelling")
			cancel()
		case <-ctx.Done():
		}
	}()

	exec, err := container.Pipeline.Run(ctx, runOpts, stop)
	if exec != nil {
		logger.Info("run finished",
			zap.String("execution_id", exec.ID),
			zap.String("status", string(exec.Status)),
			zap.Int64("files_completed", exec.FilesCompleted),
			zap.Int64("total_files", exec.TotalFiles),
			zap.Int64("records_imported", exec.TotalRecordsImported),
			zap.Bool("has_errors", exec.HasErrors),
		)
	}
	if err != nil {
		return err
	}
	if exec != nil && exec.Status == domain.ExecutionFailed {
		return fmt.Errorf("execution %s failed: %s", exec.ID, exec.ErrorDetail)
	}
	return nil
}
