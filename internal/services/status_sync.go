package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reloader is reconciled against the database on every tick.
type Reloader interface {
	Reload(ctx context.Context) error
}

// ScheduleSync keeps the scheduler in step with schedule rows edited while
// the service runs.
type ScheduleSync struct {
	target   Reloader
	interval time.Duration
	logger   *zap.Logger
}

func NewScheduleSync(target Reloader, interval time.Duration, logger *zap.Logger) *ScheduleSync {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ScheduleSync{target: target, interval: interval, logger: logger.Named("schedule_sync")}
}

// Run reloads on every tick until ctx ends.
func (s *ScheduleSync) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Schedule sync started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Schedule sync stopped")
			return nil
		case <-ticker.C:
			reloadCtx, cancel := context.WithTimeout(ctx, s.interval)
			if err := s.target.Reload(reloadCtx); err != nil {
				s.logger.Warn("Failed to sync schedules", zap.Error(err))
			}
			cancel()
		}
	}
}
