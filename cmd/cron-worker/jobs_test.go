package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shopdeck-backend/internal/cron"
	"github.com/angelmondragon/shopdeck-backend/pkg/config"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
)

type sweeper struct {
	cutoffs []time.Time
}

func (s *sweeper) ExpireStale(context.Context, time.Time) (int, error) { return 0, nil }

func (s *sweeper) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, cutoff)
	return 0, nil
}

func (s *sweeper) FailStalled(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *sweeper) ExpireDownloads(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *sweeper) Reconcile(context.Context, time.Time) (int, error) { return 0, nil }

func (s *sweeper) DeletePublishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, cutoff)
	return 0, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Cron = config.CronConfig{
		CheckoutExpirySchedule:   "0 */5 * * * *",
		ImportRetentionSchedule:  "0 30 3 * * *",
		ImportStaleSchedule:      "0 */10 * * * *",
		DownloadExpirySchedule:   "0 0 * * * *",
		SubscriptionSyncSchedule: "0 15 * * * *",
		OutboxRetentionSchedule:  "0 0 4 * * *",
	}
	cfg.Import.LogRetention = 48 * time.Hour
	cfg.Outbox.Retention = 24 * time.Hour
	return cfg
}

func deps(s *sweeper) jobDeps {
	return jobDeps{checkout: s, imports: s, staleImports: s, downloads: s, subscriptions: s, outbox: s}
}

func TestBuildRegistryRegistersAllJobs(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
	registry, err := buildRegistry(testConfig(), logg, deps(&sweeper{}))
	require.NoError(t, err)

	var names []string
	for _, e := range registry.Entries() {
		names = append(names, e.Job.Name())
	}
	assert.Equal(t, []string{
		cron.JobCheckoutExpiry,
		cron.JobImportRetention,
		cron.JobImportStale,
		cron.JobDownloadExpiry,
		cron.JobSubscriptionSync,
		cron.JobOutboxRetention,
	}, names)
}

func TestBuildRegistryAppliesRetention(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
	s := &sweeper{}
	registry, err := buildRegistry(testConfig(), logg, deps(s))
	require.NoError(t, err)

	job, ok := registry.Lookup(cron.JobImportRetention)
	require.True(t, ok)
	before := time.Now().UTC()
	require.NoError(t, job.Run(context.Background()))
	require.Len(t, s.cutoffs, 1)
	assert.WithinDuration(t, before.Add(-48*time.Hour), s.cutoffs[0], time.Minute)
}

func TestBuildRegistryRejectsBadSchedule(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
	cfg := testConfig()
	cfg.Cron.DownloadExpirySchedule = "every tuesday"
	_, err := buildRegistry(cfg, logg, deps(&sweeper{}))
	assert.Error(t, err)
}
