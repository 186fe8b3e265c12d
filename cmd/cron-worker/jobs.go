package main

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/shopdeck-backend/internal/cron"
	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
)

type jobDeps struct {
	checkout interface {
		ExpireStale(ctx context.Context, now time.Time) (int, error)
	}
	imports interface {
		DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}
	staleImports interface {
		FailStalled(ctx context.Context, now time.Time) (int64, error)
	}
	downloads interface {
		ExpireDownloads(ctx context.Context, now time.Time) (int64, error)
	}
	subscriptions interface {
		Reconcile(ctx context.Context, now time.Time) (int, error)
	}
	outbox interface {
		DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	}
}

// buildRegistry registers every maintenance job on its configured schedule.
func buildRegistry(cfg *config.Config, logg *logger.Logger, deps jobDeps) (*cron.Registry, error) {
	type build func() (cron.Job, error)
	entries := []struct {
		schedule string
		build    build
	}{
		{cfg.Cron.CheckoutExpirySchedule, func() (cron.Job, error) { return cron.NewCheckoutExpiryJob(logg, deps.checkout) }},
		{cfg.Cron.ImportRetentionSchedule, func() (cron.Job, error) {
			return cron.NewImportRetentionJob(logg, deps.imports, cfg.Import.LogRetention)
		}},
		{cfg.Cron.ImportStaleSchedule, func() (cron.Job, error) { return cron.NewStaleImportJob(logg, deps.staleImports) }},
		{cfg.Cron.DownloadExpirySchedule, func() (cron.Job, error) { return cron.NewDownloadExpiryJob(logg, deps.downloads) }},
		{cfg.Cron.SubscriptionSyncSchedule, func() (cron.Job, error) { return cron.NewSubscriptionSyncJob(logg, deps.subscriptions) }},
		{cfg.Cron.OutboxRetentionSchedule, func() (cron.Job, error) {
			return cron.NewOutboxRetentionJob(logg, deps.outbox, cfg.Outbox.Retention)
		}},
	}

	registry := cron.NewRegistry()
	for _, entry := range entries {
		job, err := entry.build()
		if err != nil {
			return nil, err
		}
		if err := registry.Register(entry.schedule, job); err != nil {
			return nil, fmt.Errorf("register %s: %w", job.Name(), err)
		}
	}
	return registry, nil
}
