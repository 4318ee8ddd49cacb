package models

import (
	"time"

	"gorm.io/datatypes"
)

type FileTracking struct {
	ID                   int64          `gorm:"primaryKey;autoIncrement"`
	ExecutionID          string         `gorm:"type:uuid;not null;index"`
	FileName             string         `gorm:"type:text;not null;index:idx_import_files_name_hash"`
	Classification       string         `gorm:"type:text;not null"`
	TargetTable          string         `gorm:"type:text;not null"`
	Hash                 string         `gorm:"type:text;not null;index:idx_import_files_name_hash"`
	SizeBytes            int64          `gorm:"not null;default:0"`
	TotalCSVLines        int64          `gorm:"column:total_csv_lines;not null;default:0"`
	TotalImportedRecords int64          `gorm:"not null;default:0"`
	SkippedRecords       int64          `gorm:"not null;default:0"`
	DroppedRows          int64          `gorm:"not null;default:0"`
	ChunksTotal          int            `gorm:"not null;default:0"`
	ChunksCompleted      int            `gorm:"not null;default:0"`
	Status               string         `gorm:"type:text;not null"`
	HasDiscrepancy       bool           `gorm:"not null;default:false"`
	Discrepancy          datatypes.JSON `gorm:"type:jsonb"`
	ErrorMessage         *string        `gorm:"type:text"`
	ReusedFrom           *int64
	StartedAt            time.Time
	FinishedAt           *time.Time
	UpdatedAt            time.Time
}

func (FileTracking) TableName() string {
	return "import_files"
}
