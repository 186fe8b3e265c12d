package imports

import (
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
)

// StartImportInput is a CSV upload as received by the controller.
type StartImportInput struct {
	StoreID  uuid.UUID
	UserID   string
	Email    string
	FileName string
	Size     int64
	Body     io.Reader
}

// StartAIImportInput lists product photos to analyze.
type StartAIImportInput struct {
	StoreID   uuid.UUID
	UserID    string
	Email     string
	ImageURLs []string
	Hints     string
}

// StartImportResult is returned once the job is queued.
type StartImportResult struct {
	JobID     string     `json:"job_id"`
	LogID     uuid.UUID  `json:"log_id"`
	TotalRows int        `json:"total_rows"`
	RowErrors []RowError `json:"row_errors,omitempty"`
}

// ImportLogDTO is the audit record as rendered to the dashboard.
type ImportLogDTO struct {
	ID           uuid.UUID          `json:"id"`
	StoreID      uuid.UUID          `json:"store_id"`
	UserID       string             `json:"user_id"`
	JobID        string             `json:"job_id"`
	Source       enums.ImportSource `json:"source"`
	FileName     string             `json:"file_name"`
	Status       enums.ImportStatus `json:"status"`
	TotalRows    int                `json:"total_rows"`
	SuccessCount int                `json:"success_count"`
	ErrorCount   int                `json:"error_count"`
	Errors       []RowError         `json:"errors,omitempty"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

func NewImportLogDTO(m *models.ProductImportLog) *ImportLogDTO {
	if m == nil {
		return nil
	}
	dto := &ImportLogDTO{
		ID:           m.ID,
		StoreID:      m.StoreID,
		UserID:       m.UserID,
		JobID:        m.JobID,
		Source:       m.Source,
		FileName:     m.FileName,
		Status:       m.Status,
		TotalRows:    m.TotalRows,
		SuccessCount: m.SuccessCount,
		ErrorCount:   m.ErrorCount,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
		CreatedAt:    m.CreatedAt,
	}
	if len(m.Errors) > 0 {
		_ = json.Unmarshal(m.Errors, &dto.Errors)
	}
	return dto
}

// statusFromLog builds a polling document when the cache has nothing.
func statusFromLog(m *models.ProductImportLog) *JobStatus {
	s := &JobStatus{
		JobID:         m.JobID,
		LogID:         m.ID,
		StoreID:       m.StoreID,
		Status:        m.Status,
		TotalRows:     m.TotalRows,
		ProcessedRows: m.SuccessCount,
		FailedRows:    m.ErrorCount,
		Source:        string(m.Source),
		UpdatedAt:     m.UpdatedAt,
	}
	s.recompute()
	return s
}
