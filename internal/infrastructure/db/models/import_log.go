package models

import (
	"time"

	"gorm.io/datatypes"
)

type ImportLog struct {
	ID             int64          `gorm:"primaryKey;autoIncrement"`
	ExecutionID    string         `gorm:"type:uuid;not null;index"`
	FileTrackingID *int64         `gorm:"index"`
	Level          string         `gorm:"type:text;not null"`
	Message        string         `gorm:"type:text;not null"`
	Details        datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time
}

func (ImportLog) TableName() string {
	return "import_logs"
}
