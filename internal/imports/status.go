package imports

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	"github.com/angelmondragon/shopdeck-backend/pkg/redis"
)

const statusKind = "import"

// JobStatus is the polling document kept in the job-status cache.
type JobStatus struct {
	JobID         string             `json:"job_id"`
	LogID         uuid.UUID          `json:"log_id"`
	StoreID       uuid.UUID          `json:"store_id"`
	Status        enums.ImportStatus `json:"status"`
	TotalRows     int                `json:"total_rows"`
	ProcessedRows int                `json:"processed_rows"`
	FailedRows    int                `json:"failed_rows"`
	Progress      int                `json:"progress"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Source        string             `json:"source"`
}

func (s *JobStatus) recompute() {
	done := s.ProcessedRows + s.FailedRows
	switch {
	case s.Status.IsFinal():
		s.Progress = 100
	case s.TotalRows <= 0:
		s.Progress = 0
	default:
		s.Progress = done * 100 / s.TotalRows
		if s.Progress > 99 {
			s.Progress = 99
		}
	}
}

type statusBackend interface {
	redis.KV
	JobStatusKey(kind, jobID string) string
}

// StatusStore is a best-effort cache of import progress.
type StatusStore struct {
	kv  statusBackend
	ttl time.Duration
	now func() time.Time
}

func NewStatusStore(kv statusBackend, ttl time.Duration) *StatusStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StatusStore{kv: kv, ttl: ttl, now: time.Now}
}

func (s *StatusStore) Put(ctx context.Context, status JobStatus) error {
	status.recompute()
	status.UpdatedAt = s.now().UTC()
	raw, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.kv.JobStatusKey(statusKind, status.JobID), raw, s.ttl)
}

// Get returns (nil, nil) on a cache miss.
func (s *StatusStore) Get(ctx context.Context, jobID string) (*JobStatus, error) {
	raw, err := s.kv.Get(ctx, s.kv.JobStatusKey(statusKind, jobID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var status JobStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, err
	}
	return &status, nil
}
