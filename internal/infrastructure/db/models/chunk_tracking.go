package models

import "time"

type ChunkTracking struct {
	ID               int64   `gorm:"primaryKey;autoIncrement"`
	FileTrackingID   int64   `gorm:"not null;uniqueIndex:idx_import_chunks_file_chunk"`
	ChunkNumber      int     `gorm:"not null;uniqueIndex:idx_import_chunks_file_chunk"`
	ChunkOffset      int64   `gorm:"not null"`
	ChunkSize        int     `gorm:"not null"`
	RecordsProcessed int     `gorm:"not null;default:0"`
	Status           string  `gorm:"type:text;not null"`
	ErrorMessage     *string `gorm:"type:text"`
	StartedAt        time.Time
	FinishedAt       *time.Time
}

func (ChunkTracking) TableName() string {
	return "import_chunks"
}
