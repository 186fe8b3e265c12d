package imports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	dbpkg "github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shopdeck-backend/pkg/pagination"
)

// maxReportedErrors caps row errors kept on a log or returned to callers.
const maxReportedErrors = 100

// Service is the API-facing half of the bulk import pipeline.
type Service interface {
	StartImport(ctx context.Context, input StartImportInput) (*StartImportResult, error)
	StartAIImport(ctx context.Context, input StartAIImportInput) (*StartImportResult, error)
	GetImportStatus(ctx context.Context, storeID uuid.UUID, jobID string) (*JobStatus, error)
	ListImportLogs(ctx context.Context, storeID uuid.UUID, params pagination.Params) (*pagination.Page[ImportLogDTO], error)
	GetImportLog(ctx context.Context, storeID, logID uuid.UUID) (*ImportLogDTO, error)
	Template() []byte
}

type objectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ServiceParams wires the import service.
type ServiceParams struct {
	Repo          *Repository
	Tx            dbpkg.TxRunner
	Objects       objectStore
	Status        *StatusStore
	Outbox        outbox.Emitter
	Config        config.ImportConfig
	AI            config.AIConfig
	AIEnabled     bool
	StoragePrefix string
	Logger        *logger.Logger
}

type service struct {
	repo      *Repository
	tx        dbpkg.TxRunner
	objects   objectStore
	status    *StatusStore
	outbox    outbox.Emitter
	cfg       config.ImportConfig
	ai        config.AIConfig
	aiEnabled bool
	prefix    string
	logg      *logger.Logger
}

// aiManifest is what an AI import stages instead of a CSV file.
type aiManifest struct {
	ImageURLs []string `json:"image_urls"`
	Hints     string   `json:"hints,omitempty"`
}

func NewService(p ServiceParams) (Service, error) {
	switch {
	case p.Repo == nil:
		return nil, fmt.Errorf("import repository required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Objects == nil:
		return nil, fmt.Errorf("object store required")
	case p.Status == nil:
		return nil, fmt.Errorf("status store required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	prefix := strings.Trim(p.StoragePrefix, "/")
	if prefix == "" {
		prefix = "imports"
	}
	return &service{
		repo:      p.Repo,
		tx:        p.Tx,
		objects:   p.Objects,
		status:    p.Status,
		outbox:    p.Outbox,
		cfg:       p.Config,
		ai:        p.AI,
		aiEnabled: p.AIEnabled,
		prefix:    prefix,
		logg:      p.Logger,
	}, nil
}

func (s *service) StartImport(ctx context.Context, input StartImportInput) (*StartImportResult, error) {
	if input.Body == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file is required")
	}
	fileName := cleanFileName(input.FileName)
	if !strings.HasSuffix(strings.ToLower(fileName), ".csv") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file must be a .csv")
	}
	limit := s.cfg.MaxFileBytes
	if limit > 0 && input.Size > limit {
		return nil, tooLarge(limit)
	}
	reader := input.Body
	if limit > 0 {
		reader = io.LimitReader(input.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read upload")
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, tooLarge(limit)
	}

	parsed, err := ParseCSV(bytes.NewReader(data), s.cfg.MaxRows)
	if err != nil {
		if errors.Is(err, ErrTooManyRows) {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "file has more than %d rows", s.cfg.MaxRows)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid csv").
			WithDetails(map[string]any{"header": err.Error()})
	}
	if parsed.TotalRows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file has no data rows")
	}
	if len(parsed.Rows) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no valid rows in file").
			WithDetails(map[string]any{"row_errors": capErrors(parsed.Errors)})
	}

	jobID := uuid.NewString()
	key := path.Join(s.prefix, input.StoreID.String(), jobID, fileName)
	if _, err := s.objects.Upload(ctx, key, "text/csv", bytes.NewReader(data)); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stage import file")
	}

	res, err := s.queue(ctx, input.StoreID, input.UserID, input.Email, enums.ImportSourceCSV, jobID, fileName, key, parsed.TotalRows)
	if err != nil {
		return nil, err
	}
	res.RowErrors = capErrors(parsed.Errors)
	return res, nil
}

func (s *service) StartAIImport(ctx context.Context, input StartAIImportInput) (*StartImportResult, error) {
	if !s.aiEnabled {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "ai import is disabled")
	}
	urls, err := normalizeAIImages(input.ImageURLs, s.ai.MaxImages)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(aiManifest{ImageURLs: urls, Hints: strings.TrimSpace(input.Hints)})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode manifest")
	}

	jobID := uuid.NewString()
	key := path.Join(s.prefix, input.StoreID.String(), jobID, "manifest.json")
	if _, err := s.objects.Upload(ctx, key, "application/json", bytes.NewReader(raw)); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stage ai manifest")
	}
	fileName := fmt.Sprintf("ai-import-%d-images", len(urls))
	return s.queue(ctx, input.StoreID, input.UserID, input.Email, enums.ImportSourceAI, jobID, fileName, key, len(urls))
}

// queue writes the pending log and its import_requested event together,
// then seeds the status cache.
func (s *service) queue(ctx context.Context, storeID uuid.UUID, userID, email string, source enums.ImportSource, jobID, fileName, key string, totalRows int) (*StartImportResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	log := &models.ProductImportLog{
		StoreID:   storeID,
		UserID:    userID,
		JobID:     jobID,
		Source:    source,
		FileName:  fileName,
		ObjectKey: &key,
		Status:    enums.ImportStatusPending,
		TotalRows: totalRows,
	}
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, log); err != nil {
			return err
		}
		sid := storeID
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventImportRequested,
			AggregateType: enums.AggregateProductImport,
			AggregateID:   log.ID,
			Actor:         &outbox.ActorRef{UserID: userID, StoreID: &sid},
			Data: payloads.ImportRequestedEvent{
				LogID:     log.ID,
				JobID:     jobID,
				StoreID:   storeID,
				UserID:    userID,
				Email:     email,
				Source:    source,
				ObjectKey: key,
				FileName:  fileName,
			},
		})
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue import")
	}

	logCtx := s.logg.WithJobID(ctx, jobID)
	if err := s.status.Put(ctx, JobStatus{
		JobID:     jobID,
		LogID:     log.ID,
		StoreID:   storeID,
		Status:    enums.ImportStatusPending,
		TotalRows: totalRows,
		Source:    string(source),
	}); err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "import status cache seed failed")
	}
	s.logg.Info(s.logg.WithField(logCtx, "total_rows", totalRows), "import queued")
	return &StartImportResult{JobID: jobID, LogID: log.ID, TotalRows: totalRows}, nil
}

// GetImportStatus prefers the cache and falls back to the log row.
func (s *service) GetImportStatus(ctx context.Context, storeID uuid.UUID, jobID string) (*JobStatus, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid job id")
	}
	cached, err := s.status.Get(ctx, jobID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "import status cache read failed")
	}
	if cached != nil && cached.StoreID == storeID {
		return cached, nil
	}
	log, err := s.repo.FindByJobID(ctx, jobID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "import job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load import log")
	}
	if log.StoreID != storeID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "import job not found")
	}
	return statusFromLog(log), nil
}

func (s *service) ListImportLogs(ctx context.Context, storeID uuid.UUID, params pagination.Params) (*pagination.Page[ImportLogDTO], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, storeID, cursor, params.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list import logs")
	}
	dtos := make([]ImportLogDTO, 0, len(rows))
	for i := range rows {
		dtos = append(dtos, *NewImportLogDTO(&rows[i]))
	}
	page := pagination.Build(dtos, params.Limit, func(l ImportLogDTO) pagination.Cursor {
		return pagination.Cursor{CreatedAt: l.CreatedAt, ID: l.ID}
	})
	return &page, nil
}

func (s *service) GetImportLog(ctx context.Context, storeID, logID uuid.UUID) (*ImportLogDTO, error) {
	log, err := s.repo.FindByID(ctx, storeID, logID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "import log not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load import log")
	}
	return NewImportLogDTO(log), nil
}

func (s *service) Template() []byte {
	return Template()
}

func normalizeAIImages(raw []string, max int) ([]string, error) {
	if max <= 0 {
		max = 25
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, u := range raw {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "image urls must be absolute http(s) urls").
				WithDetails(map[string]any{"url": u})
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	if len(out) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one image url is required")
	}
	if len(out) > max {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "at most %d images per ai import", max)
	}
	return out, nil
}

func cleanFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload.csv"
	}
	return name
}

func tooLarge(limit int64) error {
	return pkgerrors.Newf(pkgerrors.CodeValidation, "file exceeds the %d byte limit", limit).
		WithDetails(map[string]any{"max_bytes": limit})
}

func capErrors(errs []RowError) []RowError {
	if len(errs) > maxReportedErrors {
		return errs[:maxReportedErrors]
	}
	return errs
}
