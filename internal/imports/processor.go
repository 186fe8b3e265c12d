package imports

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/shopdeck-backend/internal/categories"
	"github.com/angelmondragon/shopdeck-backend/internal/email"
	"github.com/angelmondragon/shopdeck-backend/internal/products"
	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	dbpkg "github.com/angelmondragon/shopdeck-backend/pkg/db"
	"github.com/angelmondragon/shopdeck-backend/pkg/db/models"
	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	"github.com/angelmondragon/shopdeck-backend/pkg/gemini"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/metrics"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shopdeck-backend/pkg/retry"
)

const defaultBatchSize = 50

// Analyzer turns a product photo into a candidate row.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, imageURL, hints string) (*gemini.Candidate, error)
}

type objectReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ProcessorParams wires the worker half of the pipeline.
type ProcessorParams struct {
	Repo       *Repository
	Products   *products.Repository
	Categories *categories.Repository
	Tx         dbpkg.TxRunner
	Objects    objectReader
	Status     *StatusStore
	Outbox     outbox.Emitter
	Analyzer   Analyzer
	Metrics    *metrics.ImportMetrics
	Config     config.ImportConfig
	AI         config.AIConfig
	PublicURL  string
	Logger     *logger.Logger
	// BatchRetryDelay is the linear backoff step between batch attempts.
	BatchRetryDelay time.Duration
}

// Processor runs queued imports in the worker.
type Processor struct {
	p ProcessorParams
}

func NewProcessor(p ProcessorParams) (*Processor, error) {
	switch {
	case p.Repo == nil || p.Products == nil || p.Categories == nil:
		return nil, fmt.Errorf("repositories required")
	case p.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case p.Objects == nil:
		return nil, fmt.Errorf("object reader required")
	case p.Status == nil:
		return nil, fmt.Errorf("status store required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	if p.Config.BatchSize <= 0 {
		p.Config.BatchSize = defaultBatchSize
	}
	if p.Config.MaxBatchRetries < 0 {
		p.Config.MaxBatchRetries = 0
	}
	if p.BatchRetryDelay <= 0 {
		p.BatchRetryDelay = 500 * time.Millisecond
	}
	if p.AI.Concurrency <= 0 {
		p.AI.Concurrency = 3
	}
	return &Processor{p: p}, nil
}

type runState struct {
	log      *models.ProductImportLog
	status   JobStatus
	errors   []RowError
	imported int
	failed   int
}

func (r *runState) fail(e RowError) {
	r.failed++
	if len(r.errors) < maxReportedErrors {
		r.errors = append(r.errors, e)
	}
}

// ProcessImport runs one queued import to completion. Replays of a job whose
// log is already final are ignored.
func (pr *Processor) ProcessImport(ctx context.Context, evt payloads.ImportRequestedEvent) error {
	ctx = pr.p.Logger.WithJobID(ctx, evt.JobID)
	log, err := pr.p.Repo.FindByJobID(ctx, evt.JobID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			pr.p.Logger.Warn(ctx, "import log missing, dropping job")
			return nil
		}
		return fmt.Errorf("load import log: %w", err)
	}
	if log.Status.IsFinal() {
		pr.p.Logger.Info(ctx, "import already finished, skipping")
		return nil
	}

	now := time.Now().UTC()
	log.Status = enums.ImportStatusProcessing
	log.StartedAt = &now
	if err := pr.p.Repo.Save(ctx, log); err != nil {
		return fmt.Errorf("mark import processing: %w", err)
	}
	run := &runState{
		log: log,
		status: JobStatus{
			JobID:     log.JobID,
			LogID:     log.ID,
			StoreID:   log.StoreID,
			Status:    enums.ImportStatusProcessing,
			TotalRows: log.TotalRows,
			Source:    string(log.Source),
		},
	}
	pr.putStatus(ctx, run)

	rows, rowErrs, err := pr.loadRows(ctx, log)
	if err != nil {
		pr.p.Logger.Error(ctx, "import source unreadable", err)
		run.fail(RowError{Message: "import file could not be read"})
		run.failed = log.TotalRows
		return pr.finish(ctx, run, evt)
	}
	for _, e := range rowErrs {
		run.fail(e)
	}
	run.status.FailedRows = run.failed
	pr.putStatus(ctx, run)

	categoryIDs, catErrs := pr.resolveCategories(ctx, log.StoreID, rows)
	for i := 0; i < len(rows); i += pr.p.Config.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := i + pr.p.Config.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		pr.runBatch(ctx, run, rows[i:end], categoryIDs, catErrs)
		run.status.ProcessedRows = run.imported
		run.status.FailedRows = run.failed
		pr.putStatus(ctx, run)
	}
	return pr.finish(ctx, run, evt)
}

func (pr *Processor) runBatch(ctx context.Context, run *runState, batch []Row, categoryIDs map[string]uuid.UUID, catErrs map[string]error) {
	var (
		created int
		skipped []RowError
	)
	err := retry.Do(ctx, retry.Policy{
		Attempts:  pr.p.Config.MaxBatchRetries + 1,
		BaseDelay: pr.p.BatchRetryDelay,
		Strategy:  retry.Linear,
		OnRetry: func(attempt int, err error) {
			pr.p.Logger.Warn(pr.p.Logger.WithFields(ctx, map[string]any{"attempt": attempt, "error": err.Error()}), "import batch failed, retrying")
		},
	}, func(ctx context.Context) error {
		created, skipped = 0, nil
		return pr.p.Tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := pr.p.Products.WithTx(tx)
			names := make([]string, 0, len(batch))
			for _, row := range batch {
				names = append(names, row.Name)
			}
			existing, err := repo.ExistingNames(ctx, run.log.StoreID, names)
			if err != nil {
				return err
			}
			for _, row := range batch {
				if _, dup := existing[row.Name]; dup {
					skipped = append(skipped, RowError{Row: row.Line, Field: products.ColumnName, Message: "duplicate: a product with this name already exists"})
					continue
				}
				key := categoryKey(row.Category)
				if cerr, bad := catErrs[key]; bad {
					skipped = append(skipped, RowError{Row: row.Line, Field: products.ColumnCategory, Message: cerr.Error()})
					continue
				}
				product := rowToProduct(run.log.StoreID, row)
				if id, ok := categoryIDs[key]; ok {
					product.CategoryID = &id
				}
				if err := repo.Create(ctx, product); err != nil {
					return err
				}
				if _, err := repo.ReplaceImages(ctx, product.ID, row.ImageURLs); err != nil {
					return err
				}
				existing[row.Name] = struct{}{}
				created++
			}
			return nil
		})
	})
	if err != nil {
		pr.p.Logger.Error(pr.p.Logger.WithField(ctx, "batch_rows", len(batch)), "import batch gave up", err)
		for _, row := range batch {
			run.fail(RowError{Row: row.Line, Message: "batch failed after retries"})
		}
		pr.observeRows(run.log.Source, 0, len(batch))
		return
	}
	run.imported += created
	for _, e := range skipped {
		run.fail(e)
	}
	pr.observeRows(run.log.Source, created, len(skipped))
}

func (pr *Processor) finish(ctx context.Context, run *runState, evt payloads.ImportRequestedEvent) error {
	log := run.log
	switch {
	case run.imported == 0:
		log.Status = enums.ImportStatusFailed
	case run.failed > 0:
		log.Status = enums.ImportStatusPartial
	default:
		log.Status = enums.ImportStatusCompleted
	}
	now := time.Now().UTC()
	log.SuccessCount = run.imported
	log.ErrorCount = run.failed
	log.CompletedAt = &now
	log.Errors = nil
	if len(run.errors) > 0 {
		raw, err := json.Marshal(run.errors)
		if err != nil {
			return fmt.Errorf("encode import errors: %w", err)
		}
		log.Errors = raw
	}

	err := pr.p.Tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := pr.p.Repo.WithTx(tx).Save(ctx, log); err != nil {
			return err
		}
		sid := log.StoreID
		if err := pr.p.Outbox.Emit(ctx, tx, outbox.DomainEvent{
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
				CompletedAt:  now,
			},
		}); err != nil {
			return err
		}
		if strings.TrimSpace(evt.Email) == "" {
			return nil
		}
		req, err := email.NewRequest(log.StoreID, evt.Email, email.TemplateImportFinished, email.ImportFinishedData{
			FileName:     log.FileName,
			Status:       string(log.Status),
			TotalRows:    log.TotalRows,
			SuccessCount: log.SuccessCount,
			ErrorCount:   log.ErrorCount,
			DetailsURL:   pr.detailsURL(log),
		})
		if err != nil {
			return err
		}
		return pr.p.Outbox.Emit(ctx, tx, req)
	})
	if err != nil {
		return fmt.Errorf("finalize import: %w", err)
	}

	run.status.Status = log.Status
	run.status.ProcessedRows = run.imported
	run.status.FailedRows = run.failed
	pr.putStatus(ctx, run)
	if pr.p.Metrics != nil {
		pr.p.Metrics.IncRun(string(log.Source), string(log.Status))
	}
	pr.p.Logger.Info(pr.p.Logger.WithFields(ctx, map[string]any{
		"status":   log.Status,
		"imported": run.imported,
		"failed":   run.failed,
	}), "import finished")
	return nil
}

func (pr *Processor) loadRows(ctx context.Context, log *models.ProductImportLog) ([]Row, []RowError, error) {
	if log.ObjectKey == nil {
		return nil, nil, fmt.Errorf("import log has no staged object")
	}
	body, err := pr.p.Objects.Open(ctx, *log.ObjectKey)
	if err != nil {
		return nil, nil, err
	}
	defer body.Close()

	if log.Source == enums.ImportSourceAI {
		var manifest aiManifest
		if err := json.NewDecoder(body).Decode(&manifest); err != nil {
			return nil, nil, fmt.Errorf("decode manifest: %w", err)
		}
		rows, errs := pr.analyze(ctx, manifest)
		return rows, errs, nil
	}

	parsed, err := ParseCSV(body, 0)
	if err != nil {
		return nil, nil, err
	}
	return parsed.Rows, parsed.Errors, nil
}

// analyze runs the vision model over every image with a bounded window.
// Images that keep failing become row errors.
func (pr *Processor) analyze(ctx context.Context, manifest aiManifest) ([]Row, []RowError) {
	results := make([]*Row, len(manifest.ImageURLs))
	failures := make([]*RowError, len(manifest.ImageURLs))
	if pr.p.Analyzer == nil {
		for i := range manifest.ImageURLs {
			failures[i] = &RowError{Row: i + 1, Field: "image", Message: "ai analysis is not configured"}
		}
		return collect(results, failures)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pr.p.AI.Concurrency)
	for i, imageURL := range manifest.ImageURLs {
		g.Go(func() error {
			var candidate *gemini.Candidate
			err := retry.Do(gctx, retry.Policy{
				Attempts:  pr.p.AI.MaxRetries + 1,
				BaseDelay: pr.p.BatchRetryDelay,
				Strategy:  retry.Exponential,
			}, func(ctx context.Context) error {
				c, err := pr.p.Analyzer.AnalyzeImage(ctx, imageURL, manifest.Hints)
				if err != nil {
					return err
				}
				candidate = c
				return nil
			})
			if err != nil {
				failures[i] = &RowError{Row: i + 1, Field: "image", Message: "analysis failed: " + err.Error()}
				return nil
			}
			row := candidateRow(i+1, imageURL, candidate)
			if errs := ValidateRow(row); len(errs) > 0 {
				failures[i] = &errs[0]
				return nil
			}
			results[i] = &row
			return nil
		})
	}
	_ = g.Wait()
	return collect(results, failures)
}

func collect(results []*Row, failures []*RowError) ([]Row, []RowError) {
	var rows []Row
	var errs []RowError
	for i := range results {
		if results[i] != nil {
			rows = append(rows, *results[i])
		}
		if failures[i] != nil {
			errs = append(errs, *failures[i])
		}
	}
	return rows, errs
}

func candidateRow(line int, imageURL string, c *gemini.Candidate) Row {
	cents, err := ParsePrice(fmt.Sprintf("%.2f", c.Price))
	if err != nil || c.Price < 0 {
		cents = 0
	}
	return Row{
		Line:        line,
		Name:        strings.TrimSpace(c.Name),
		Description: strings.TrimSpace(c.Description),
		PriceCents:  cents,
		Category:    strings.TrimSpace(c.Category),
		ImageURLs:   []string{imageURL},
	}
}

// resolveCategories maps every category name in rows to an id, creating
// missing ones. Names that cannot be resolved are reported per key.
func (pr *Processor) resolveCategories(ctx context.Context, storeID uuid.UUID, rows []Row) (map[string]uuid.UUID, map[string]error) {
	ids := make(map[string]uuid.UUID)
	failed := make(map[string]error)
	for _, row := range rows {
		key := categoryKey(row.Category)
		if key == "" {
			continue
		}
		if _, ok := ids[key]; ok {
			continue
		}
		if _, ok := failed[key]; ok {
			continue
		}
		id, err := pr.ensureCategory(ctx, storeID, strings.TrimSpace(row.Category))
		if err != nil {
			pr.p.Logger.Error(pr.p.Logger.WithField(ctx, "category", row.Category), "resolve import category", err)
			failed[key] = fmt.Errorf("category %q could not be created", row.Category)
			continue
		}
		ids[key] = id
	}
	return ids, failed
}

func (pr *Processor) ensureCategory(ctx context.Context, storeID uuid.UUID, name string) (uuid.UUID, error) {
	found, err := pr.p.Categories.FindByName(ctx, storeID, name)
	if err == nil {
		return found.ID, nil
	}
	if !dbpkg.IsNotFound(err) {
		return uuid.Nil, err
	}
	category := &models.Category{StoreID: storeID, Name: name}
	if err := pr.p.Categories.Create(ctx, category); err != nil {
		if dbpkg.IsUniqueViolation(err, "uq_categories_store_name") {
			found, ferr := pr.p.Categories.FindByName(ctx, storeID, name)
			if ferr != nil {
				return uuid.Nil, ferr
			}
			return found.ID, nil
		}
		return uuid.Nil, err
	}
	return category.ID, nil
}

func (pr *Processor) putStatus(ctx context.Context, run *runState) {
	if err := pr.p.Status.Put(ctx, run.status); err != nil {
		pr.p.Logger.Warn(pr.p.Logger.WithField(ctx, "error", err.Error()), "import status cache write failed")
	}
}

func (pr *Processor) observeRows(source enums.ImportSource, processed, failed int) {
	if pr.p.Metrics != nil {
		pr.p.Metrics.AddRows(string(source), processed, failed)
	}
}

func (pr *Processor) detailsURL(log *models.ProductImportLog) string {
	base := strings.TrimRight(pr.p.PublicURL, "/")
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s/stores/%s/imports/%s", base, log.StoreID, log.ID)
}

func rowToProduct(storeID uuid.UUID, row Row) *models.Product {
	product := &models.Product{
		StoreID:    storeID,
		Name:       row.Name,
		PriceCents: row.PriceCents,
		Stock:      row.Stock,
		IsFeatured: row.IsFeatured,
		IsArchived: row.IsArchived,
	}
	if row.Description != "" {
		desc := row.Description
		product.Description = &desc
	}
	if row.SKU != "" {
		sku := row.SKU
		product.SKU = &sku
	}
	return product
}

func categoryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
