package farming

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/voxclip-safety/internal/domain/errs"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
	"github.com/ivankudzin/voxclip-safety/internal/domain/rules"
)

const (
	ReasonSelfAction = "self_action"
	ReasonCooldown   = "cooldown"
	ReasonFrequency  = "frequency"
)

type EventStore interface {
	RecentPairEvents(ctx context.Context, target, source uuid.UUID, actionType string, since time.Time, limit int) ([]time.Time, int, error)
	Insert(ctx context.Context, action model.ReputationAction) error
}

type Config struct {
	// Threshold is the number of prior pair events inside the cooldown that makes the next one farming.
	Threshold    int
	StoreTimeout time.Duration
	FailOpen     bool
}

type Verdict struct {
	IsFarming  bool          `json:"is_farming"`
	Reason     string        `json:"reason,omitempty"`
	Count      int           `json:"count"`
	RetryAfter time.Duration `json:"-"`
	Degraded   bool          `json:"degraded,omitempty"`
}

type Action struct {
	TargetProfileID uuid.UUID
	SourceProfileID *uuid.UUID
	ActionType      string
	ResourceID      *string
	Points          int
}

type Guard struct {
	store  EventStore
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewGuard(store EventStore, cfg Config, logger *zap.Logger) *Guard {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Check must run before the action is logged; the log is the data it reads.
func (g *Guard) Check(ctx context.Context, target uuid.UUID, source *uuid.UUID, actionType string, cooldownMinutes int) (Verdict, error) {
	actionType = strings.ToLower(strings.TrimSpace(actionType))
	if target == uuid.Nil || actionType == "" {
		return Verdict{}, fmt.Errorf("%w: target profile and action type are required", errs.ErrValidation)
	}
	if cooldownMinutes <= 0 {
		return Verdict{}, fmt.Errorf("%w: cooldown minutes must be positive", errs.ErrValidation)
	}
	if source == nil || *source == uuid.Nil {
		return Verdict{}, nil
	}

	cooldown := rules.WindowDuration(cooldownMinutes)
	if *source == target {
		rejectionsCounter.WithLabelValues(ReasonSelfAction).Inc()
		return Verdict{IsFarming: true, Reason: ReasonSelfAction, RetryAfter: cooldown}, nil
	}
	if g.store == nil {
		return g.readFailed(target, *source, actionType, fmt.Errorf("reputation store is nil"))
	}

	readCtx := ctx
	if g.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, g.cfg.StoreTimeout)
		defer cancel()
	}

	now := g.now().UTC()
	events, total, err := g.store.RecentPairEvents(readCtx, target, *source, actionType, now.Add(-cooldown), g.cfg.Threshold)
	if err != nil {
		return g.readFailed(target, *source, actionType, err)
	}
	if total < g.cfg.Threshold || len(events) < g.cfg.Threshold {
		return Verdict{Count: total}, nil
	}

	// Admission returns once the threshold-th newest event leaves the window.
	retryAfter := events[g.cfg.Threshold-1].Add(cooldown).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	reason := ReasonCooldown
	if g.cfg.Threshold > 1 {
		reason = ReasonFrequency
	}
	rejectionsCounter.WithLabelValues(reason).Inc()
	return Verdict{
		IsFarming:  true,
		Reason:     reason,
		Count:      total,
		RetryAfter: retryAfter,
	}, nil
}

// Enforce is Check that reports farming as *errs.FarmingError.
func (g *Guard) Enforce(ctx context.Context, target uuid.UUID, source *uuid.UUID, actionType string, cooldownMinutes int) (Verdict, error) {
	verdict, err := g.Check(ctx, target, source, actionType, cooldownMinutes)
	if err != nil {
		return verdict, err
	}
	if verdict.IsFarming {
		return verdict, &errs.FarmingError{
			Reason:     verdict.Reason,
			Count:      verdict.Count,
			RetryAfter: verdict.RetryAfter,
		}
	}
	return verdict, nil
}

// LogReputationAction records an admitted action. Store failures are logged and dropped.
func (g *Guard) LogReputationAction(ctx context.Context, action Action) (model.ReputationAction, error) {
	actionType := strings.ToLower(strings.TrimSpace(action.ActionType))
	if action.TargetProfileID == uuid.Nil || actionType == "" {
		return model.ReputationAction{}, fmt.Errorf("%w: target profile and action type are required", errs.ErrValidation)
	}
	if action.SourceProfileID != nil && *action.SourceProfileID == uuid.Nil {
		action.SourceProfileID = nil
	}

	record := model.ReputationAction{
		TargetProfileID: action.TargetProfileID,
		SourceProfileID: action.SourceProfileID,
		ActionType:      actionType,
		ResourceID:      action.ResourceID,
		Points:          action.Points,
		CreatedAt:       g.now().UTC(),
	}
	if g.store == nil {
		g.logger.Warn("reputation action write failed", zap.String("action_type", actionType), zap.Error(fmt.Errorf("reputation store is nil")))
		return record, nil
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := g.store.Insert(writeCtx, record); err != nil {
		g.logger.Warn("reputation action write failed",
			zap.String("target_profile_id", record.TargetProfileID.String()),
			zap.String("action_type", actionType),
			zap.Error(err),
		)
	}
	return record, nil
}

func (g *Guard) readFailed(target, source uuid.UUID, actionType string, cause error) (Verdict, error) {
	if !g.cfg.FailOpen {
		return Verdict{}, errs.Unavailable(fmt.Errorf("read reputation events: %w", cause))
	}
	failOpenCounter.Inc()
	g.logger.Warn("reputation store unavailable, failing open",
		zap.String("target_profile_id", target.String()),
		zap.String("source_profile_id", source.String()),
		zap.String("action_type", actionType),
		zap.Error(cause),
	)
	return Verdict{Degraded: true}, nil
}
