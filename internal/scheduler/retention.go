// Package scheduler runs the event-log retention sweep. Flow events are
// operational telemetry, not medical records: history collections are
// kept forever, the event log is not.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultRetentionDays keeps one month of flow events.
const DefaultRetentionDays = 30

const (
	// sweepSpec fires daily at 02:00 server time, off the ingest peak.
	sweepSpec = "0 2 * * *"

	sweepTimeout = 5 * time.Minute
)

// Store deletes expired event-log records.
type Store interface {
	DeleteEventLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention wraps a cron scheduler around the sweep.
type Retention struct {
	cron          *cron.Cron
	store         Store
	logger        *zap.Logger
	retentionDays int
}

// NewRetention builds the sweeper. Days zero or negative falls back to
// DefaultRetentionDays.
func NewRetention(store Store, retentionDays int, logger *zap.Logger) *Retention {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Retention{
		cron:          cron.New(),
		store:         store,
		logger:        logger,
		retentionDays: retentionDays,
	}
}

// Start sweeps once immediately, then daily. The immediate pass runs in
// the background so a slow store cannot hold up service start.
func (r *Retention) Start() error {
	if _, err := r.cron.AddFunc(sweepSpec, r.sweep); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.Info("retention scheduler started",
		zap.Int("retention_days", r.retentionDays),
		zap.String("spec", sweepSpec))
	go r.sweep()
	return nil
}

// Stop waits for a running sweep to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("retention scheduler stopped")
}

func (r *Retention) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -r.retentionDays)
	deleted, err := r.store.DeleteEventLogsBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("retention sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		r.logger.Info("retention sweep completed",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
}
