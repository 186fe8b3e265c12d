package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

// ProductImportLog is the durable audit record of one bulk import run.
type ProductImportLog struct {
	ID           uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	StoreID      uuid.UUID          `gorm:"column:store_id;type:uuid;not null;index"`
	UserID       string             `gorm:"column:user_id;not null"`
	JobID        string             `gorm:"column:job_id;not null;uniqueIndex:uq_import_logs_job_id"`
	Source       enums.ImportSource `gorm:"column:source;type:import_source;not null"`
	FileName     string             `gorm:"column:file_name;not null"`
	ObjectKey    *string            `gorm:"column:object_key"`
	Status       enums.ImportStatus `gorm:"column:status;type:import_status;not null;default:'pending'"`
	TotalRows    int                `gorm:"column:total_rows;not null;default:0"`
	SuccessCount int                `gorm:"column:success_count;not null;default:0"`
	ErrorCount   int                `gorm:"column:error_count;not null;default:0"`
	Errors       json.RawMessage    `gorm:"column:errors;type:jsonb"`
	StartedAt    *time.Time         `gorm:"column:started_at"`
	CompletedAt  *time.Time         `gorm:"column:completed_at"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *ProductImportLog) BeforeCreate(*gorm.DB) error {
	newID(&l.ID)
	return nil
}
