package ingest

import (
	"context"

	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"go.uber.org/zap"
)

// eventLog writes pipeline events both to the process logger and to the
// tracking log table of the current execution.
type eventLog struct {
	store       domain.TrackingStore
	logger      *zap.Logger
	executionID string
}

func (e *eventLog) record(ctx context.Context, fileID *int64, level domain.LogLevel, message string, details map[string]any) {
	fields := make([]zap.Field, 0, len(details)+2)
	fields = append(fields, zap.String("execution_id", e.executionID))
	if fileID != nil {
		fields = append(fields, zap.Int64("file_tracking_id", *fileID))
	}
	for k, v := range details {
		fields = append(fields, zap.Any(k, v))
	}

	switch level {
	case domain.LogDebug:
		e.logger.Debug(message, fields...)
	case domain.LogWarn:
		e.logger.Warn(message, fields...)
	case domain.LogError:
		e.logger.Error(message, fields...)
	default:
		e.logger.Info(message, fields...)
	}

	// The tracking log must survive a cancelled run context.
	err := e.store.AppendLog(context.WithoutCancel(ctx), domain.LogEntry{
		ExecutionID:    e.executionID,
		FileTrackingID: fileID,
		Level:          level,
		Message:        message,
		Details:        details,
	})
	if err != nil {
		e.logger.Warn("failed to persist tracking log", zap.String("message", message), zap.Error(err))
	}
}

func (e *eventLog) info(ctx context.Context, fileID *int64, message string, details map[string]any) {
	e.record(ctx, fileID, domain.LogInfo, message, details)
}

func (e *eventLog) warn(ctx context.Context, fileID *int64, message string, details map[string]any) {
	e.record(ctx, fileID, domain.LogWarn, message, details)
}

func (e *eventLog) fail(ctx context.Context, fileID *int64, message string, details map[string]any) {
	e.record(ctx, fileID, domain.LogError, message, details)
}
