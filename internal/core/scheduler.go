package core

// scheduler.go provides the daemon-mode loops: the interval merge run
// and the store maintenance job.
//
// Both loops are long-running and context-aware for graceful shutdown.
// They log progress and errors but never fail the process when an
// individual cycle fails.

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ScheduleConfig holds configuration for the interval run loop.
type ScheduleConfig struct {
	Interval time.Duration // how often to merge (default: 24h)
	DryRun   bool
}

// MaintenanceConfig holds configuration for the maintenance loop.
type MaintenanceConfig struct {
	Interval time.Duration // how often to reconcile duplicates (default: 24h)
}

// StartSchedule runs a merge immediately, then once per interval, until
// the context is cancelled. A tick that fires while a run is still
// active is skipped, not queued.
func (s *Service) StartSchedule(ctx context.Context, cfg ScheduleConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	slog.Info("run scheduler started", "interval", cfg.Interval, "dry_run", cfg.DryRun)

	s.runScheduled(ctx, cfg)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("run scheduler stopped")
			return
		case <-ticker.C:
			s.runScheduled(ctx, cfg)
		}
	}
}

func (s *Service) runScheduled(ctx context.Context, cfg ScheduleConfig) {
	_, err := s.RunOnce(ctx, RunOptions{Trigger: TriggerSchedule, DryRun: cfg.DryRun})
	if errors.Is(err, ErrRunInProgress) {
		slog.Warn("scheduled run skipped, previous run still active")
	}
	// Other failures are already logged with full context by the
	// pipeline and recorded on the run registry.
}

// StartMaintenance periodically reconciles historical duplicates in
// the store. It runs immediately on start, then every interval, until
// the context is cancelled.
func (s *Service) StartMaintenance(ctx context.Context, cfg MaintenanceConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	slog.Info("maintenance scheduler started", "interval", cfg.Interval)

	s.runMaintenanceJob(ctx)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			s.runMaintenanceJob(ctx)
		}
	}
}

// runMaintenanceJob performs one duplicate reconciliation cycle.
func (s *Service) runMaintenanceJob(ctx context.Context) {
	start := time.Now()
	deleted, err := s.ReconcileDuplicates(ctx)
	if err != nil {
		slog.Error("duplicate reconciliation failed", "error", err)
		return
	}
	slog.Info("duplicate reconciliation completed",
		"rows_deleted", deleted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
