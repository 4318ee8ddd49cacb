package logging

import (
	"sync"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"go.uber.org/zap"
)

// ProgressLogger logs step and state transitions of a run. Chunk-level
// updates go to debug.
type ProgressLogger struct {
	logger *zap.Logger

	mu   sync.Mutex
	last domain.Progress
}

func NewProgressLogger(logger *zap.Logger) *ProgressLogger {
	return &ProgressLogger{logger: logger.Named("progress")}
}

func (l *ProgressLogger) OnProgress(p domain.Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fields := []zap.Field{
		zap.String("state", string(p.State)),
		zap.String("step", p.Step),
		zap.Float64("percent", p.Percent),
		zap.Int("completed_files", p.CompletedFiles),
		zap.Int("total_files", p.TotalFiles),
	}
	if p.ExecutionID != "" {
		fields = append(fields, zap.String("execution_id", p.ExecutionID))
	}
	if p.CurrentFile != nil {
		fields = append(fields,
			zap.String("file", p.CurrentFile.Name),
			zap.Int("chunk", p.CurrentFile.Chunk),
			zap.Int64("rows_copied", p.CurrentFile.RowsCopied),
		)
	}

	switch {
	case p.State != l.last.State:
		l.logger.Info("run state changed", fields...)
	case p.Step != l.last.Step || p.CompletedFiles != l.last.CompletedFiles:
		l.logger.Info("run progress", fields...)
	case len(p.Errors) > len(l.last.Errors):
		l.logger.Warn("run error recorded", append(fields, zap.String("error", p.Errors[len(p.Errors)-1]))...)
	default:
		l.logger.Debug("run progress", fields...)
	}
	l.last = p
}
