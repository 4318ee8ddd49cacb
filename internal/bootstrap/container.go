package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mohammadpnp/cnpj-import/internal/application/ingest"
	"github.com/mohammadpnp/cnpj-import/internal/infrastructure/archive"
	"github.com/mohammadpnp/cnpj-import/internal/infrastructure/config"
	infrafile "github.com/mohammadpnp/cnpj-import/internal/infrastructure/file"
	"github.com/mohammadpnp/cnpj-import/internal/infrastructure/logging"
	"github.com/mohammadpnp/cnpj-import/internal/infrastructure/metrics"
	"github.com/mohammadpnp/cnpj-import/internal/infrastructure/remote"
	"github.com/mohammadpnp/cnpj-import/internal/infrastructure/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Container holds the wired components of one process.
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	DB         *gorm.DB
	Pool       *pgxpool.Pool
	Registry   *prometheus.Registry
	Tracker    *ingest.ProgressTracker
	Tracking   *repository.TrackingRepository
	Stats      *repository.TableStatsRepository
	Pipeline   *ingest.Pipeline
	Controller *ingest.RunController
}

// NewContainer connects to the database and wires the pipeline. Runs started
// through the controller are bound to ctx.
func NewContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	db, pool, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)
	tracker := ingest.NewProgressTracker(collector, logging.NewProgressLogger(logger))

	tracking := repository.NewTrackingRepository(db)
	stats := repository.NewTableStatsRepository(db)

	client := remote.NewHTTPClient(cfg.ConnectTimeout, cfg.DownloadTimeout)
	downloader := remote.NewDownloader(client, remote.DownloaderConfig{
		Dir:            cfg.DownloadDir,
		ConnectTimeout: cfg.ConnectTimeout,
		IdleTimeout:    cfg.DownloadTimeout,
		MaxAttempts:    cfg.MaxDownloadAttempts,
	}, logger).WithByteCounter(collector)

	pipeline := ingest.NewPipeline(ingest.PipelineDeps{
		Remote:     remote.NewDiscoverer(cfg.BaseURL, client, logger),
		Local:      infrafile.NewLocalSource(cfg.DownloadDir),
		Downloader: downloader,
		Extractor:  archive.NewExtractor(cfg.StagingDir, logger),
		Inspector:  infrafile.NewInspector(),
		Readers:    infrafile.NewBatchReaderFactory(cfg.ChunkSize, logger),
		Loader:     repository.NewBulkLoadRepository(pool, logger),
		Store:      tracking,
		Stats:      stats,
		Sanitizer:  ingest.NewSanitizer(repository.NewCodeSetRepository(db)),
		Tracker:    tracker,
		Logger:     logger,
	}, ingest.PipelineConfig{ChunkSize: cfg.ChunkSize, MaxWorkers: cfg.MaxWorkers})

	return &Container{
		Config:     cfg,
		Logger:     logger,
		DB:         db,
		Pool:       pool,
		Registry:   registry,
		Tracker:    tracker,
		Tracking:   tracking,
		Stats:      stats,
		Pipeline:   pipeline,
		Controller: ingest.NewRunController(ctx, pipeline, tracker, logger),
	}, nil
}

// RunDefaults are the toggles applied when a request leaves them unset.
func (c *Container) RunDefaults() ingest.RunOptions {
	return ingest.RunOptions{Download: c.Config.DownloadEnabled, Import: c.Config.ImportEnabled}
}

func (c *Container) Close() error {
	c.Pool.Close()
	sqlDB, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}
