package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
)

const (
	JobCheckoutExpiry   = "checkout-expiry"
	JobImportRetention  = "import-log-retention"
	JobImportStale      = "import-stale"
	JobDownloadExpiry   = "download-expiry"
	JobSubscriptionSync = "subscription-reconcile"
	JobOutboxRetention  = "outbox-retention"

	defaultImportRetention = 90 * 24 * time.Hour
	defaultOutboxRetention = 30 * 24 * time.Hour
)

// sweepJob runs one sweep with the current time and logs how many rows it
// touched.
type sweepJob struct {
	name  string
	logg  *logger.Logger
	now   func() time.Time
	sweep func(ctx context.Context, now time.Time) (int64, error)
}

func (j *sweepJob) Name() string { return j.name }

func (j *sweepJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	n, err := j.sweep(ctx, now)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Info(j.logg.WithField(ctx, "rows", n), "sweep complete")
	return nil
}

func newSweep(name string, logg *logger.Logger, sweep func(context.Context, time.Time) (int64, error)) (Job, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &sweepJob{name: name, logg: logg, now: time.Now, sweep: sweep}, nil
}

type checkoutExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// NewCheckoutExpiryJob expires open checkout sessions past their deadline
// and releases their stock.
func NewCheckoutExpiryJob(logg *logger.Logger, svc checkoutExpirer) (Job, error) {
	if svc == nil {
		return nil, errors.New("checkout service required")
	}
	return newSweep(JobCheckoutExpiry, logg, func(ctx context.Context, now time.Time) (int64, error) {
		n, err := svc.ExpireStale(ctx, now)
		return int64(n), err
	})
}

type importLogPurger interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewImportRetentionJob purges finished import logs older than retention.
func NewImportRetentionJob(logg *logger.Logger, repo importLogPurger, retention time.Duration) (Job, error) {
	if repo == nil {
		return nil, errors.New("import repository required")
	}
	if retention <= 0 {
		retention = defaultImportRetention
	}
	return newSweep(JobImportRetention, logg, func(ctx context.Context, now time.Time) (int64, error) {
		return repo.DeleteFinishedBefore(ctx, now.Add(-retention))
	})
}

type staleImportFailer interface {
	FailStalled(ctx context.Context, now time.Time) (int64, error)
}

// NewStaleImportJob fails imports left unfinished by a crashed worker.
func NewStaleImportJob(logg *logger.Logger, svc staleImportFailer) (Job, error) {
	if svc == nil {
		return nil, errors.New("stale import sweeper required")
	}
	return newSweep(JobImportStale, logg, svc.FailStalled)
}

type downloadExpirer interface {
	ExpireDownloads(ctx context.Context, now time.Time) (int64, error)
}

func NewDownloadExpiryJob(logg *logger.Logger, svc downloadExpirer) (Job, error) {
	if svc == nil {
		return nil, errors.New("downloads service required")
	}
	return newSweep(JobDownloadExpiry, logg, svc.ExpireDownloads)
}

type subscriptionReconciler interface {
	Reconcile(ctx context.Context, now time.Time) (int, error)
}

// NewSubscriptionSyncJob re-reads subscriptions whose period ended from
// Stripe, covering webhooks that never arrived.
func NewSubscriptionSyncJob(logg *logger.Logger, svc subscriptionReconciler) (Job, error) {
	if svc == nil {
		return nil, errors.New("subscriptions service required")
	}
	return newSweep(JobSubscriptionSync, logg, func(ctx context.Context, now time.Time) (int64, error) {
		n, err := svc.Reconcile(ctx, now)
		return int64(n), err
	})
}

type outboxPurger interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func NewOutboxRetentionJob(logg *logger.Logger, repo outboxPurger, retention time.Duration) (Job, error) {
	if repo == nil {
		return nil, errors.New("outbox repository required")
	}
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	return newSweep(JobOutboxRetention, logg, func(ctx context.Context, now time.Time) (int64, error) {
		return repo.DeletePublishedBefore(ctx, now.Add(-retention))
	})
}
