package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammadpnp/cnpj-import/internal/bootstrap"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the run control API, health and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root)
			if err != nil {
				return err
			}
			defer logger.Sync()

			runCtx, cancelRuns := context.WithCancel(context.Background())
			defer cancelRuns()

			container, err := openMigrated(runCtx, cfg, logger)
			if err != nil {
				logger.Error("startup failed", zap.Error(err))
				return err
			}
			defer container.Close()

			server := bootstrap.NewHTTPServer(container)
			go func() {
				logger.Info("http server listening", zap.String("address", cfg.ListenAddress))
				if err := server.Start(cfg.ListenAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal("server failed", zap.Error(err))
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			logger.Info("shutting down")

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := container.Controller.Shutdown(ctx); err != nil {
				logger.Warn("run did not stop in time, cancelled", zap.Error(err))
			}
			if err := server.Shutdown(ctx); err != nil {
				logger.Error("graceful shutdown failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
}
