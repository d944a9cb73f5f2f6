package escalation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	modsvc "github.com/ivankudzin/voxclip-safety/internal/services/moderation"
)

type Escalator interface {
	EscalateStale(ctx context.Context) (modsvc.EscalationReport, error)
}

type Job struct {
	escalator Escalator
	logger    *zap.Logger
}

func New(escalator Escalator, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{escalator: escalator, logger: logger}
}

func (j *Job) Run(ctx context.Context) error {
	if j.escalator == nil {
		return nil
	}

	report, err := j.escalator.EscalateStale(ctx)
	if err != nil {
		return fmt.Errorf("escalate stale moderation items: %w", err)
	}
	if report.Escalated > 0 {
		j.logger.Info("escalation sweep completed",
			zap.Int("scanned", report.Scanned),
			zap.Int("escalated", report.Escalated),
		)
	}
	return nil
}
