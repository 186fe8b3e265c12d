package imports

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox/payloads"
)

const (
	defaultStaleAfter = 2 * time.Hour
	staleSweepLimit   = 200

	abandonedMessage = "import stopped before finishing; upload the file again to retry"
)

// StaleSweeper closes out imports whose worker died mid-run. The worker
// claims each import_requested delivery once, so redeliveries never pick
// these runs up again.
type StaleSweeper struct {
	repo   *Repository
	tx     dbpkg.TxRunner
	status *StatusStore
	outbox outbox.Emitter
	after  time.Duration
	logg   *logger.Logger
}

func NewStaleSweeper(repo *Repository, tx dbpkg.TxRunner, status *StatusStore, emitter outbox.Emitter, after time.Duration, logg *logger.Logger) (*StaleSweeper, error) {
	switch {
	case repo == nil:
		return nil, fmt.Errorf("import repository required")
	case tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case status == nil:
		return nil, fmt.Errorf("status store required")
	case emitter == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case logg == nil:
		return nil, fmt.Errorf("logger required")
	}
	if after <= 0 {
		after = defaultStaleAfter
	}
	return &StaleSweeper{repo: repo, tx: tx, status: status, outbox: emitter, after: after, logg: logg}, nil
}

// FailStalled marks every run that has not moved for the stale window as
// failed and emits its import_completed event.
func (s *StaleSweeper) FailStalled(ctx context.Context, now time.Time) (int64, error) {
	logs, err := s.repo.ListStalled(ctx, now.Add(-s.after), staleSweepLimit)
	if err != nil {
		return 0, fmt.Errorf("list stalled imports: %w", err)
	}
	raw, err := json.Marshal([]RowError{{Message: abandonedMessage}})
	if err != nil {
		return 0, err
	}

	var failed int64
	for i := range logs {
		log := &logs[i]
		completedAt := now
		log.Status = enums.ImportStatusFailed
		log.ErrorCount = log.TotalRows - log.SuccessCount
		log.Errors = raw
		log.CompletedAt = &completedAt

		var changed bool
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			ok, err := s.repo.WithTx(tx).MarkAbandoned(ctx, log)
			if err != nil || !ok {
				return err
			}
			changed = true
			sid := log.StoreID
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventImportCompleted,
				AggregateType: enums.AggregateProductImport,
				AggregateID:   log.ID,
				Actor:         &outbox.ActorRef{UserID: log.UserID, StoreID: &sid},
				Data: payloads.ImportCompletedEvent{
					LogID:        log.ID,
					JobID:        log.JobID,
					StoreID:      log.StoreID,
					UserID:       log.UserID,
					Source:       log.Source,
					Status:       log.Status,
					TotalRows:    log.TotalRows,
					SuccessCount: log.SuccessCount,
					ErrorCount:   log.ErrorCount,
					CompletedAt:  completedAt,
				},
			})
		})
		if err != nil {
			return failed, fmt.Errorf("fail stalled import %s: %w", log.JobID, err)
		}
		if !changed {
			continue
		}
		failed++

		logCtx := s.logg.WithJobID(ctx, log.JobID)
		if err := s.status.Put(ctx, JobStatus{
			JobID:         log.JobID,
			LogID:         log.ID,
			StoreID:       log.StoreID,
			Status:        log.Status,
			TotalRows:     log.TotalRows,
			ProcessedRows: log.SuccessCount,
			FailedRows:    log.ErrorCount,
			Source:        string(log.Source),
		}); err != nil {
			s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "import status cache write failed")
		}
		s.logg.Warn(logCtx, "stalled import marked failed")
	}
	return failed, nil
}
