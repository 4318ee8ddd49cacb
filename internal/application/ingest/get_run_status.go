package ingest

import (
	"context"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"go.uber.org/zap"
)

type GetRunStatus interface {
	Execute(ctx context.Context) (domain.Progress, error)
}

type statusReader interface {
	Running() bool
	Status() domain.Progress
}

type getRunStatus struct {
	controller statusReader
	tracker    *ProgressTracker
	stats      domain.TableStats
	logger     *zap.Logger
}

func NewGetRunStatus(controller statusReader, tracker *ProgressTracker, stats domain.TableStats, logger *zap.Logger) GetRunStatus {
	return &getRunStatus{controller: controller, tracker: tracker, stats: stats, logger: logger}
}

// Execute returns the progress snapshot. Outside a run the live table counts
// are refreshed on every read.
func (uc *getRunStatus) Execute(ctx context.Context) (domain.Progress, error) {
	if uc.stats != nil && !uc.controller.Running() {
		counts, err := uc.stats.LiveCounts(ctx, domain.TargetTableNames())
		if err != nil {
			uc.logger.Warn("live counts unavailable", zap.Error(err))
		} else {
			uc.tracker.SetTableCounts(counts)
		}
	}
	return uc.controller.Status(), nil
}
