package cleanup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type ActivityPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type CounterPruner interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job removes ledger records and rate-limit counter rows past their retention.
// Moderation items, their history and the audit log are kept forever.
type Job struct {
	activity          ActivityPruner
	counters          CounterPruner
	activityRetention time.Duration
	counterRetention  time.Duration
	now               func() time.Time
	logger            *zap.Logger
}

func New(activity ActivityPruner, counters CounterPruner, activityRetention, counterRetention time.Duration, logger *zap.Logger) *Job {
	if activityRetention <= 0 {
		activityRetention = 30 * 24 * time.Hour
	}
	if counterRetention <= 0 {
		counterRetention = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		activity:          activity,
		counters:          counters,
		activityRetention: activityRetention,
		counterRetention:  counterRetention,
		now:               time.Now,
		logger:            logger,
	}
}

func (j *Job) Run(ctx context.Context) error {
	now := j.now().UTC()

	if j.activity != nil {
		rows, err := j.activity.DeleteOlderThan(ctx, now.Add(-j.activityRetention))
		if err != nil {
			return fmt.Errorf("cleanup activity records: %w", err)
		}
		if rows > 0 {
			j.logger.Info("cleanup activity records completed", zap.Int64("deleted", rows))
		}
	}

	if j.counters != nil {
		rows, err := j.counters.DeleteExpired(ctx, now.Add(-j.counterRetention))
		if err != nil {
			return fmt.Errorf("cleanup rate counters: %w", err)
		}
		if rows > 0 {
			j.logger.Info("cleanup rate counters completed", zap.Int64("deleted", rows))
		}
	}

	return nil
}
