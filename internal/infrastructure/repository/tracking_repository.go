package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	domain "github.com/mohammadpnp/cnpj-import/internal/domain/cnpj"
	"github.com/mohammadpnp/cnpj-import/internal/infrastructure/db/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TrackingRepository struct {
	db *gorm.DB
}

func NewTrackingRepository(db *gorm.DB) *TrackingRepository {
	return &TrackingRepository{db: db}
}

func (r *TrackingRepository) CreateExecution(ctx context.Context, exec *domain.Execution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	if exec.Status == "" {
		exec.Status = domain.ExecutionRunning
	}

	row := models.Execution{
		ID:         exec.ID,
		Host:       exec.Host,
		ChunkSize:  exec.ChunkSize,
		MaxWorkers: exec.MaxWorkers,
		Status:     string(exec.Status),
		TotalFiles: exec.TotalFiles,
		StartedAt:  exec.StartedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// SetExecutionFiles records the number of archives a run is going to handle.
func (r *TrackingRepository) SetExecutionFiles(ctx context.Context, executionID string, totalFiles int64) error {
	err := r.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ?", executionID).
		Update("total_files", totalFiles).Error
	if err != nil {
		return fmt.Errorf("set execution files: %w", err)
	}
	return nil
}

type executionAggregate struct {
	Files          int64
	FilesCompleted int64
	Imported       int64
	Failed         int64
}

func (r *TrackingRepository) FinalizeExecution(ctx context.Context, executionID string, status domain.ExecutionStatus, errorDetail string) (*domain.Execution, error) {
	var row models.Execution
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agg executionAggregate
		if err := tx.Raw(`
SELECT
  COUNT(*) AS files,
  COUNT(*) FILTER (WHERE status = 'completed') AS files_completed,
  COALESCE(SUM(total_imported_records) FILTER (WHERE status = 'completed'), 0) AS imported,
  COUNT(*) FILTER (WHERE status IN ('failed', 'partial')) AS failed
FROM import_files
WHERE execution_id = ?
`, executionID).Scan(&agg).Error; err != nil {
			return fmt.Errorf("aggregate files: %w", err)
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":                 string(status),
			"files_completed":        agg.FilesCompleted,
			"total_records_imported": agg.Imported,
			"total_files":            gorm.Expr("GREATEST(total_files, ?)", agg.Files),
			"has_errors":             agg.Failed > 0 || errorDetail != "" || status == domain.ExecutionFailed,
			"error_detail":           nullableText(errorDetail),
			"finished_at":            now,
		}
		if err := tx.Model(&models.Execution{}).Where("id = ?", executionID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update execution: %w", err)
		}
		return tx.First(&row, "id = ?", executionID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("finalize execution: %w", err)
	}
	return toDomainExecution(row), nil
}

// LatestExecution returns the most recently started execution, or nil.
func (r *TrackingRepository) LatestExecution(ctx context.Context) (*domain.Execution, error) {
	var row models.Execution
	if err := r.db.WithContext(ctx).Order("started_at DESC").First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest execution: %w", err)
	}
	return toDomainExecution(row), nil
}

// LatestFile returns the latest load attempt of a CSV. Skip markers are ignored.
func (r *TrackingRepository) LatestFile(ctx context.Context, fileName, hash string) (*domain.FileTracking, error) {
	var row models.FileTracking
	err := r.db.WithContext(ctx).
		Where("file_name = ? AND hash = ? AND reused_from IS NULL", fileName, hash).
		Order("id DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest file: %w", err)
	}
	return toDomainFile(row), nil
}

func (r *TrackingRepository) CreateFile(ctx context.Context, file *domain.FileTracking) error {
	if file.StartedAt.IsZero() {
		file.StartedAt = time.Now().UTC()
	}
	if file.Status == "" {
		file.Status = domain.FileRunning
	}

	row := models.FileTracking{
		ExecutionID:    file.ExecutionID,
		FileName:       file.FileName,
		Classification: string(file.Classification),
		TargetTable:    file.TableName,
		Hash:           file.Hash,
		SizeBytes:      file.SizeBytes,
		TotalCSVLines:  file.TotalCSVLines,
		Status:         string(file.Status),
		ErrorMessage:   nullableText(file.ErrorMessage),
		ReusedFrom:     file.ReusedFrom,
		StartedAt:      file.StartedAt,
		FinishedAt:     file.FinishedAt,

		TotalImportedRecords: file.TotalImportedRecords,
		SkippedRecords:       file.SkippedRecords,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create file tracking: %w", err)
	}
	file.ID = row.ID
	return nil
}

// ResumeFile reattaches an existing row to the current execution and resets
// its progress, since a resumed file is reloaded from the first chunk.
func (r *TrackingRepository) ResumeFile(ctx context.Context, file *domain.FileTracking) error {
	file.Status = domain.FileRunning
	file.StartedAt = time.Now().UTC()
	file.ChunksCompleted = 0
	file.ErrorMessage = ""
	file.FinishedAt = nil

	err := r.db.WithContext(ctx).
		Model(&models.FileTracking{}).
		Where("id = ?", file.ID).
		Updates(map[string]any{
			"execution_id":           file.ExecutionID,
			"status":                 string(file.Status),
			"size_bytes":             file.SizeBytes,
			"total_csv_lines":        file.TotalCSVLines,
			"total_imported_records": 0,
			"skipped_records":        0,
			"dropped_rows":           0,
			"chunks_completed":       0,
			"has_discrepancy":        false,
			"discrepancy":            nil,
			"error_message":          nil,
			"started_at":             file.StartedAt,
			"finished_at":            nil,
		}).Error
	if err != nil {
		return fmt.Errorf("resume file tracking: %w", err)
	}
	return nil
}

func (r *TrackingRepository) CompleteFile(ctx context.Context, file *domain.FileTracking, discrepancy *domain.Discrepancy) error {
	now := time.Now().UTC()
	file.Status = domain.FileCompleted
	file.FinishedAt = &now
	file.HasDiscrepancy = discrepancy != nil

	var detail datatypes.JSON
	if discrepancy != nil {
		raw, err := json.Marshal(discrepancy)
		if err != nil {
			return fmt.Errorf("encode discrepancy: %w", err)
		}
		detail = datatypes.JSON(raw)
	}

	err := r.db.WithContext(ctx).
		Model(&models.FileTracking{}).
		Where("id = ?", file.ID).
		Updates(map[string]any{
			"status":                 string(file.Status),
			"total_csv_lines":        file.TotalCSVLines,
			"total_imported_records": file.TotalImportedRecords,
			"skipped_records":        file.SkippedRecords,
			"dropped_rows":           file.DroppedRows,
			"chunks_total":           file.ChunksTotal,
			"chunks_completed":       file.ChunksCompleted,
			"has_discrepancy":        file.HasDiscrepancy,
			"discrepancy":            detail,
			"error_message":          nil,
			"finished_at":            now,
		}).Error
	if err != nil {
		return fmt.Errorf("complete file tracking: %w", err)
	}
	return nil
}

func (r *TrackingRepository) FailFile(ctx context.Context, fileID int64, status domain.FileStatus, reason string) error {
	err := r.db.WithContext(ctx).
		Model(&models.FileTracking{}).
		Where("id = ?", fileID).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": nullableText(reason),
			"finished_at":   time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("fail file tracking: %w", err)
	}
	return nil
}

// StartChunk upserts the chunk row so a resumed file reuses its chunk numbers.
func (r *TrackingRepository) StartChunk(ctx context.Context, chunk *domain.ChunkTracking) error {
	if chunk.StartedAt.IsZero() {
		chunk.StartedAt = time.Now().UTC()
	}
	chunk.Status = domain.ChunkRunning

	row := models.ChunkTracking{
		FileTrackingID: chunk.FileTrackingID,
		ChunkNumber:    chunk.ChunkNumber,
		ChunkOffset:    chunk.ChunkOffset,
		ChunkSize:      chunk.ChunkSize,
		Status:         string(chunk.Status),
		StartedAt:      chunk.StartedAt,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "file_tracking_id"}, {Name: "chunk_number"}},
		DoUpdates: clause.Assignments(map[string]any{
			"chunk_offset":      row.ChunkOffset,
			"chunk_size":        row.ChunkSize,
			"records_processed": 0,
			"status":            row.Status,
			"error_message":     nil,
			"started_at":        row.StartedAt,
			"finished_at":       nil,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("start chunk: %w", err)
	}
	return nil
}

func (r *TrackingRepository) FinishChunk(ctx context.Context, chunk *domain.ChunkTracking) error {
	now := time.Now().UTC()
	chunk.FinishedAt = &now
	if chunk.Status == "" || chunk.Status == domain.ChunkRunning {
		chunk.Status = domain.ChunkCompleted
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.ChunkTracking{}).
			Where("file_tracking_id = ? AND chunk_number = ?", chunk.FileTrackingID, chunk.ChunkNumber).
			Updates(map[string]any{
				"records_processed": chunk.RecordsProcessed,
				"status":            string(chunk.Status),
				"error_message":     nullableText(chunk.ErrorMessage),
				"finished_at":       now,
			}).Error
		if err != nil {
			return fmt.Errorf("finish chunk: %w", err)
		}
		if chunk.Status != domain.ChunkCompleted {
			return nil
		}
		err = tx.Model(&models.FileTracking{}).
			Where("id = ?", chunk.FileTrackingID).
			Updates(map[string]any{
				"chunks_completed": gorm.Expr("chunks_completed + 1"),
				"chunks_total":     gorm.Expr("GREATEST(chunks_total, ?)", chunk.ChunkNumber+1),
			}).Error
		if err != nil {
			return fmt.Errorf("count completed chunk: %w", err)
		}
		return nil
	})
}

// RollbackChunks marks every chunk of a file as failed and resets the file's
// completed chunk count. Chunks copied before the failure shared the load
// transaction and were rolled back with it.
func (r *TrackingRepository) RollbackChunks(ctx context.Context, fileID int64, reason string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.ChunkTracking{}).
			Where("file_tracking_id = ?", fileID).
			Updates(map[string]any{
				"status":            string(domain.ChunkFailed),
				"records_processed": 0,
				"error_message":     nullableText(reason),
				"finished_at":       now,
			}).Error
		if err != nil {
			return fmt.Errorf("roll back chunks: %w", err)
		}
		err = tx.Model(&models.FileTracking{}).
			Where("id = ?", fileID).
			Update("chunks_completed", 0).Error
		if err != nil {
			return fmt.Errorf("reset completed chunks: %w", err)
		}
		return nil
	})
}

func (r *TrackingRepository) AppendLog(ctx context.Context, entry domain.LogEntry) error {
	row := models.ImportLog{
		ExecutionID:    entry.ExecutionID,
		FileTrackingID: entry.FileTrackingID,
		Level:          string(entry.Level),
		Message:        entry.Message,
	}
	if len(entry.Details) > 0 {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encode log details: %w", err)
		}
		row.Details = datatypes.JSON(raw)
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func toDomainExecution(row models.Execution) *domain.Execution {
	return &domain.Execution{
		ID:                   row.ID,
		Host:                 row.Host,
		ChunkSize:            row.ChunkSize,
		MaxWorkers:           row.MaxWorkers,
		Status:               domain.ExecutionStatus(row.Status),
		TotalFiles:           row.TotalFiles,
		FilesCompleted:       row.FilesCompleted,
		TotalRecordsImported: row.TotalRecordsImported,
		HasErrors:            row.HasErrors,
		ErrorDetail:          derefText(row.ErrorDetail),
		StartedAt:            row.StartedAt,
		FinishedAt:           row.FinishedAt,
	}
}

func toDomainFile(row models.FileTracking) *domain.FileTracking {
	return &domain.FileTracking{
		ID:                   row.ID,
		ExecutionID:          row.ExecutionID,
		FileName:             row.FileName,
		Classification:       domain.Classification(row.Classification),
		TableName:            row.TargetTable,
		Hash:                 row.Hash,
		SizeBytes:            row.SizeBytes,
		TotalCSVLines:        row.TotalCSVLines,
		TotalImportedRecords: row.TotalImportedRecords,
		SkippedRecords:       row.SkippedRecords,
		DroppedRows:          row.DroppedRows,
		ChunksTotal:          row.ChunksTotal,
		ChunksCompleted:      row.ChunksCompleted,
		Status:               domain.FileStatus(row.Status),
		HasDiscrepancy:       row.HasDiscrepancy,
		ErrorMessage:         derefText(row.ErrorMessage),
		ReusedFrom:           row.ReusedFrom,
		StartedAt:            row.StartedAt,
		FinishedAt:           row.FinishedAt,
	}
}

func nullableText(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func derefText(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
