package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/shopdeck-backend/internal/consumers"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
)

type dependency struct {
	name string
	ping func(context.Context) error
}

type ServiceParams struct {
	Logger       *logger.Logger
	Consumers    []*consumers.Consumer
	Dependencies []dependency
	// MetricsServer is optional; it is shut down with the consumers.
	MetricsServer *http.Server
}

// Service runs every Pub/Sub consumer until one fails or ctx ends.
type Service struct {
	logg      *logger.Logger
	consumers []*consumers.Consumer
	deps      []dependency
	metrics   *http.Server
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Consumers) == 0 {
		return nil, errors.New("at least one consumer is required")
	}
	return &Service{
		logg:      params.Logger,
		consumers: params.Consumers,
		deps:      params.Dependencies,
		metrics:   params.MetricsServer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if err := dep.ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.name), err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range s.consumers {
		c := c
		g.Go(func() error {
			s.logg.Info(s.logg.WithField(gctx, "consumer", c.Name()), "consumer started")
			if err := c.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("consumer %s: %w", c.Name(), err)
			}
			return nil
		})
	}
	if s.metrics != nil {
		g.Go(func() error {
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.metrics.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if err != nil {
		s.logg.Error(ctx, "worker stopped unexpectedly", err)
		return err
	}
	s.logg.Info(ctx, "worker context canceled")
	return ctx.Err()
}
