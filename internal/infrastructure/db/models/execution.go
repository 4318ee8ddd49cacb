package models

import "time"

type Execution struct {
	ID                   string  `gorm:"type:uuid;primaryKey"`
	Host                 string  `gorm:"type:text;not null"`
	ChunkSize            int     `gorm:"not null"`
	MaxWorkers           int     `gorm:"not null"`
	Status               string  `gorm:"type:text;not null"`
	TotalFiles           int64   `gorm:"not null;default:0"`
	FilesCompleted       int64   `gorm:"not null;default:0"`
	TotalRecordsImported int64   `gorm:"not null;default:0"`
	HasErrors            bool    `gorm:"not null;default:false"`
	ErrorDetail          *string `gorm:"type:text"`
	StartedAt            time.Time
	FinishedAt           *time.Time
}

func (Execution) TableName() string {
	return "import_executions"
}
