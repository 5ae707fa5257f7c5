package models

import (
	"time"

	"gorm.io/datatypes"
)

// ImportLog is the persisted summary of a finished import job
type ImportLog struct {
	ID             uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID          string         `gorm:"type:varchar(36);not null;uniqueIndex" json:"job_id"`
	TenantID       string         `gorm:"type:varchar(64);not null;index" json:"tenant_id"`
	Kind           string         `gorm:"type:varchar(20);not null" json:"kind"`
	Source         string         `gorm:"type:varchar(255)" json:"source"`
	Stage          string         `gorm:"type:varchar(30);not null;index" json:"stage"`
	Total          int            `gorm:"not null" json:"total"`
	CompletedCount int            `gorm:"not null" json:"completed_count"`
	FailedCount    int            `gorm:"not null" json:"failed_count"`
	SkippedCount   int            `gorm:"not null" json:"skipped_count"`
	Errors         datatypes.JSON `json:"errors"`
	StartedAt      time.Time      `gorm:"not null" json:"started_at"`
	FinishedAt     time.Time      `gorm:"not null;index" json:"finished_at"`
	CreatedAt      time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
}

// TableName specifies the table name
func (ImportLog) TableName() string {
	return "import_logs"
}
