package imports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	"github.com/angelmondragon/shopdeck-backend/pkg/pagination"
)

// Repository persists ProductImportLog rows.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, log *models.ProductImportLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

func (r *Repository) Save(ctx context.Context, log *models.ProductImportLog) error {
	return r.db.WithContext(ctx).Save(log).Error
}

func (r *Repository) FindByJobID(ctx context.Context, jobID string) (*models.ProductImportLog, error) {
	var log models.ProductImportLog
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&log).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *Repository) FindByID(ctx context.Context, storeID, id uuid.UUID) (*models.ProductImportLog, error) {
	var log models.ProductImportLog
	err := r.db.WithContext(ctx).Where("store_id = ? AND id = ?", storeID, id).First(&log).Error
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (r *Repository) List(ctx context.Context, storeID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.ProductImportLog, error) {
	var rows []models.ProductImportLog
	err := r.db.WithContext(ctx).
		Omit("errors").
		Where("store_id = ?", storeID).
		Scopes(pagination.Scope("", cursor, limit)).
		Find(&rows).Error
	return rows, err
}

// DeleteFinishedBefore purges final logs created before cutoff.
func (r *Repository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ? AND status IN ?", cutoff, []enums.ImportStatus{
			enums.ImportStatusCompleted, enums.ImportStatusPartial, enums.ImportStatusFailed,
		}).
		Delete(&models.ProductImportLog{})
	return res.RowsAffected, res.Error
}

var unfinishedStatuses = []enums.ImportStatus{enums.ImportStatusPending, enums.ImportStatusProcessing}

// ListStalled returns unfinished logs untouched since cutoff: processing runs
// by started_at, queued ones by created_at.
func (r *Repository) ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]models.ProductImportLog, error) {
	var rows []models.ProductImportLog
	err := r.db.WithContext(ctx).
		Where("(status = ? AND started_at < ?) OR (status = ? AND created_at < ?)",
			enums.ImportStatusProcessing, cutoff, enums.ImportStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkAbandoned writes the final fields of log unless a worker finished it
// in the meantime. It reports whether the row changed.
func (r *Repository) MarkAbandoned(ctx context.Context, log *models.ProductImportLog) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ProductImportLog{}).
		Where("id = ? AND status IN ?", log.ID, unfinishedStatuses).
		Updates(map[string]any{
			"status":       log.Status,
			"error_count":  log.ErrorCount,
			"errors":       log.Errors,
			"completed_at": log.CompletedAt,
		})
	return res.RowsAffected == 1, res.Error
}

// Totals aggregates finished runs for store analytics.
type Totals struct {
	Runs         int64 `gorm:"column:runs"`
	RowsImported int64 `gorm:"column:rows_imported"`
	RowsFailed   int64 `gorm:"column:rows_failed"`
}

func (r *Repository) TotalsBetween(ctx context.Context, storeID uuid.UUID, from, to time.Time) (Totals, error) {
	var out Totals
	err := r.db.WithContext(ctx).Model(&models.ProductImportLog{}).
		Select("COUNT(*) AS runs, COALESCE(SUM(success_count), 0) AS rows_imported, COALESCE(SUM(error_count), 0) AS rows_failed").
		Where("store_id = ? AND created_at >= ? AND created_at < ?", storeID, from, to).
		Scan(&out).Error
	return out, err
}
