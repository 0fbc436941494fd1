// Package sweep schedules the periodic maintenance jobs: the morning
// re-resolution pass that lets decay move stale resolutions between
// policy bands, and reliability garbage collection.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okian/sibyl/pkg/logger"
	"github.com/okian/sibyl/pkg/metrics"
)

// Default schedules: refresh every morning, collect stale reliability
// triples weekly.
const (
	defaultRefreshSchedule     = "0 6 * * *"
	defaultReliabilitySchedule = "30 3 * * 0"
	defaultReliabilityMaxAge   = 180 * 24 * time.Hour
)

// Maintainer is the slice of the service the scheduler drives.
type Maintainer interface {
	RefreshAll(ctx context.Context) (int, error)
	SweepReliability(ctx context.Context, cutoff time.Time) (int, error)
}

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithRefreshSchedule sets the cron spec for the re-resolution pass.
func WithRefreshSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.refreshSpec = spec
		}
	}
}

// WithReliabilitySchedule sets the cron spec for reliability collection.
func WithReliabilitySchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.reliabilitySpec = spec
		}
	}
}

// WithReliabilityMaxAge sets how long an untouched reliability triple
// survives before collection.
func WithReliabilityMaxAge(age time.Duration) Option {
	return func(s *Scheduler) {
		if age > 0 {
			s.maxAge = age
		}
	}
}

// Scheduler owns the cron runner.
type Scheduler struct {
	maintainer Maintainer
	cron       *cron.Cron

	refreshSpec     string
	reliabilitySpec string
	maxAge          time.Duration

	logger logger.Logger
}

// New creates a Scheduler around a maintainer.
func New(maintainer Maintainer, opts ...Option) *Scheduler {
	s := &Scheduler{
		maintainer:      maintainer,
		cron:            cron.New(),
		refreshSpec:     defaultRefreshSchedule,
		reliabilitySpec: defaultReliabilitySchedule,
		maxAge:          defaultReliabilityMaxAge,
		logger:          logger.Get().Named("sweep"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the jobs and begins the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.refreshSpec, func() { s.refresh(ctx) }); err != nil {
		return fmt.Errorf("register refresh job: %w", err)
	}
	if _, err := s.cron.AddFunc(s.reliabilitySpec, func() { s.collect(ctx) }); err != nil {
		return fmt.Errorf("register reliability job: %w", err)
	}
	s.cron.Start()
	s.logger.Info(ctx, "sweep scheduler started",
		logger.String("refresh", s.refreshSpec),
		logger.String("reliability", s.reliabilitySpec),
	)
	return nil
}

// Stop halts the cron loop; running jobs finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// refresh re-resolves every subject so decayed evidence can demote a
// resolution before anyone reads it.
func (s *Scheduler) refresh(ctx context.Context) {
	metrics.RecordSweepRun("refresh")
	n, err := s.maintainer.RefreshAll(ctx)
	if err != nil {
		s.logger.Error(ctx, "refresh sweep failed", logger.Error(err))
		return
	}
	s.logger.Info(ctx, "refresh sweep done", logger.Int("subjects", n))
}

// collect drops reliability triples that have not been updated within
// the retention window.
func (s *Scheduler) collect(ctx context.Context) {
	metrics.RecordSweepRun("reliability")
	cutoff := time.Now().Add(-s.maxAge)
	n, err := s.maintainer.SweepReliability(ctx, cutoff)
	if err != nil {
		s.logger.Error(ctx, "reliability sweep failed", logger.Error(err))
		return
	}
	metrics.RecordReliabilitySwept(n)
	s.logger.Info(ctx, "reliability sweep done", logger.Int("removed", n))
}
