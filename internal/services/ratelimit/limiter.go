package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/voxclip-safety/internal/domain/errs"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
	"github.com/ivankudzin/voxclip-safety/internal/domain/rules"
)

// CounterStore admits one request against a fixed window in a single atomic step.
// The returned count never exceeds the counter's MaxRequests.
type CounterStore interface {
	Increment(ctx context.Context, counter model.RateLimitCounter) (int, bool, error)
}

type Config struct {
	StoreTimeout time.Duration
	FailOpen     bool
}

type Decision struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	Limit      int           `json:"limit"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"-"`
	// Degraded is set when the store failed and the request was admitted anyway.
	Degraded bool `json:"degraded,omitempty"`
}

type Limiter struct {
	store  CounterStore
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewLimiter(store CounterStore, cfg Config, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Check counts one request for subject and action inside the current fixed window.
func (l *Limiter) Check(ctx context.Context, subject, actionType string, maxRequests, windowMinutes int) (Decision, error) {
	subject = strings.TrimSpace(subject)
	actionType = strings.ToLower(strings.TrimSpace(actionType))
	if subject == "" || actionType == "" {
		return Decision{}, fmt.Errorf("%w: subject and action type are required", errs.ErrValidation)
	}
	if maxRequests <= 0 || windowMinutes <= 0 {
		return Decision{}, fmt.Errorf("%w: max requests and window minutes must be positive", errs.ErrValidation)
	}

	now := l.now().UTC()
	window := rules.WindowDuration(windowMinutes)
	windowStart := rules.WindowStart(now, window)
	resetAt := windowStart.Add(window)

	if l.store == nil {
		return l.storeFailed(subject, actionType, maxRequests, resetAt, fmt.Errorf("rate limiter store is nil"))
	}

	storeCtx := ctx
	if l.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(ctx, l.cfg.StoreTimeout)
		defer cancel()
	}

	count, allowed, err := l.store.Increment(storeCtx, model.RateLimitCounter{
		Subject:       subject,
		ActionType:    actionType,
		WindowStart:   windowStart,
		MaxRequests:   maxRequests,
		WindowMinutes: windowMinutes,
	})
	if err != nil {
		return l.storeFailed(subject, actionType, maxRequests, resetAt, err)
	}

	decision := Decision{
		Allowed:   allowed,
		Remaining: maxRequests - count,
		Limit:     maxRequests,
		ResetAt:   resetAt,
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	if !allowed {
		decision.Remaining = 0
		decision.RetryAfter = resetAt.Sub(now)
		decisionsCounter.WithLabelValues(actionType, "denied").Inc()
		return decision, nil
	}

	decisionsCounter.WithLabelValues(actionType, "allowed").Inc()
	return decision, nil
}

// Enforce is Check that reports a denial as *errs.RateLimitedError.
func (l *Limiter) Enforce(ctx context.Context, subject, actionType string, maxRequests, windowMinutes int) (Decision, error) {
	decision, err := l.Check(ctx, subject, actionType, maxRequests, windowMinutes)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		return decision, &errs.RateLimitedError{
			Subject:    subject,
			ActionType: actionType,
			Limit:      decision.Limit,
			ResetAt:    decision.ResetAt,
			RetryAfter: decision.RetryAfter,
		}
	}
	return decision, nil
}

func (l *Limiter) storeFailed(subject, actionType string, maxRequests int, resetAt time.Time, cause error) (Decision, error) {
	if !l.cfg.FailOpen {
		decisionsCounter.WithLabelValues(actionType, "error").Inc()
		return Decision{}, errs.Unavailable(fmt.Errorf("increment rate counter: %w", cause))
	}

	failOpenCounter.Inc()
	decisionsCounter.WithLabelValues(actionType, "fail_open").Inc()
	l.logger.Warn("rate limit store unavailable, failing open",
		zap.String("subject", subject),
		zap.String("action_type", actionType),
		zap.Error(cause),
	)
	return Decision{
		Allowed:   true,
		Remaining: maxRequests,
		Limit:     maxRequests,
		ResetAt:   resetAt,
		Degraded:  true,
	}, nil
}
