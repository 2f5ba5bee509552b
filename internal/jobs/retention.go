// Package jobs schedules background maintenance for the service.
package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// LogPurger deletes verification logs older than a retention window.
type LogPurger interface {
	PurgeExpiredLogs(ctx context.Context, retention time.Duration) (int64, error)
}

// Retention periodically purges expired verification logs.
type Retention struct {
	scheduler *gocron.Scheduler
	purger    LogPurger
	retention time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

// NewRetention prepares a job that runs every interval. It does nothing until
// Start is called.
func NewRetention(purger LogPurger, retention, interval time.Duration, logger *zap.Logger) (*Retention, error) {
	r := &Retention{
		scheduler: gocron.NewScheduler(time.UTC),
		purger:    purger,
		retention: retention,
		timeout:   time.Minute,
		logger:    logger.Named("retention_job"),
	}
	r.scheduler.SingletonModeAll()
	if _, err := r.scheduler.Every(interval).Do(r.run); err != nil {
		return nil, err
	}
	return r, nil
}

// Start runs the first purge immediately and then on every tick.
func (r *Retention) Start() {
	r.scheduler.StartAsync()
}

// Stop halts the scheduler; a purge in flight finishes on its own.
func (r *Retention) Stop() {
	r.scheduler.Stop()
}

func (r *Retention) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	purged, err := r.purger.PurgeExpiredLogs(ctx, r.retention)
	if err != nil {
		r.logger.Error("log purge failed", zap.Error(err))
		return
	}
	r.logger.Debug("log purge finished", zap.Int64("purged", purged))
}
