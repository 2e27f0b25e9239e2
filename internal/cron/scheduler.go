// Package cron drives the time-based work of the service: starting due
// operations, firing schedule instances, extending recurrence horizons
// and nightly housekeeping.
package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"thrivesend/internal/config"
	"thrivesend/internal/engine"
	"thrivesend/internal/notify"
	"thrivesend/internal/repository"
	"thrivesend/internal/schedule"
)

// Scheduler manages all cron jobs.
type Scheduler struct {
	cron       *cron.Cron
	cfg        *config.Config
	logger     *zap.Logger
	controller *engine.Controller
	schedules  *schedule.Service
	operations *repository.OperationRepository
	notifier   *notify.Notifier
	guard      FireGuard
}

// New creates a new cron scheduler.
func New(cfg *config.Config, controller *engine.Controller, schedules *schedule.Service, operations *repository.OperationRepository, notifier *notify.Notifier, guard FireGuard, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		cfg:        cfg,
		logger:     logger,
		controller: controller,
		schedules:  schedules,
		operations: operations,
		notifier:   notifier,
		guard:      guard,
	}
}

// Start registers and starts all cron jobs.
func (s *Scheduler) Start() {
	s.logger.Info("Starting cron scheduler...")

	// Start due operations and fire due schedule instances - every minute
	s.cron.AddFunc("0 * * * * *", func() {
		now := time.Now()
		if !s.acquire("tick", now.Truncate(time.Minute)) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
		defer cancel()
		s.controller.StartDue(ctx, now)
		s.schedules.FireDue(ctx, now)
	})

	// Extend recurrence horizons - hourly
	s.cron.AddFunc("0 0 * * * *", func() {
		now := time.Now()
		if !s.acquire("horizon", now.Truncate(time.Hour)) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.schedules.ExtendHorizon(ctx, now)
	})

	// Archive old terminal operations - daily at 03:00
	s.cron.AddFunc("0 0 3 * * *", func() {
		now := time.Now()
		if !s.acquire("archive", now.Truncate(24*time.Hour)) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		n, err := s.operations.ArchiveBefore(ctx, now.Add(-s.cfg.Engine.ArchiveAfter))
		if err != nil {
			s.logger.Error("Archival failed", zap.Error(err))
			return
		}
		s.logger.Info("Archived operations", zap.Int64("count", n))
	})

	// Daily ops-channel report - 23:45
	s.cron.AddFunc("0 45 23 * * *", func() {
		now := time.Now()
		if !s.acquire("report", now.Truncate(24*time.Hour)) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.notifier.SendDailyReport(ctx)
	})

	s.cron.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Cron scheduler stopped")
}

func (s *Scheduler) acquire(name string, slot time.Time) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := s.guard.Acquire(ctx, name+":"+slot.UTC().Format(time.RFC3339))
	if err != nil {
		s.logger.Warn("Fire guard unavailable, running tick anyway",
			zap.String("tick", name), zap.Error(err))
		return true
	}
	return ok
}
