package cron

import (
	"context"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/metrics"
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locker   Locker
	Metrics  *metrics.CronJobMetrics
	Location *time.Location
}

// Service fires registered jobs on their schedules. Every firing takes the
// job's Redis lease first; replicas that lose the race skip that tick.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locker   Locker
	metrics  *metrics.CronJobMetrics
	loc      *time.Location
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	loc := params.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		locker:   params.Locker,
		metrics:  params.Metrics,
		loc:      loc,
	}, nil
}

// Run schedules every job and blocks until ctx is canceled, then waits for
// running jobs to return.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	scheduler := robfig.New(
		robfig.WithParser(s.registry.parser),
		robfig.WithLocation(s.loc),
		robfig.WithChain(robfig.SkipIfStillRunning(cronLogger{ctx: ctx, logg: s.logg})),
	)
	for _, entry := range s.registry.Entries() {
		job := entry.Job
		if _, err := scheduler.AddFunc(entry.Schedule, func() { s.runJob(ctx, job) }); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name(), err)
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "schedule": entry.Schedule}), "job scheduled")
	}
	scheduler.Start()

	<-ctx.Done()
	s.logg.Info(ctx, "cron service context canceled")
	<-scheduler.Stop().Done()
	return ctx.Err()
}

// RunNow runs one job immediately under its lease.
func (s *Service) RunNow(ctx context.Context, name string) error {
	job, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.runJob(ctx, job)
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	token, ok, err := s.locker.Acquire(jobCtx, job.Name())
	if err != nil {
		s.logg.Error(jobCtx, "lock acquire failed", err)
		return err
	}
	if !ok {
		s.logg.Info(jobCtx, "job held by another instance; skipping")
		return nil
	}
	defer func() {
		if relErr := s.locker.Release(jobCtx, job.Name(), token); relErr != nil {
			s.logg.Error(jobCtx, "failed to release cron lock", relErr)
		}
	}()

	start := time.Now()
	err = job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(job.Name())
		return err
	}
	s.logg.Info(jobCtx, "job completed")
	s.metrics.IncSuccess(job.Name())
	return nil
}

// cronLogger adapts the service logger to robfig's logger interface.
type cronLogger struct {
	ctx  context.Context
	logg *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logg.Debug(l.logg.WithFields(l.ctx, pairs(keysAndValues)), msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logg.Error(l.logg.WithFields(l.ctx, pairs(keysAndValues)), msg, err)
}

func pairs(kv []any) map[string]any {
	out := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
