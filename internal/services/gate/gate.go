package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/voxclip-safety/internal/domain/errs"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
	redrepo "github.com/ivankudzin/voxclip-safety/internal/repo/redis"
	"github.com/ivankudzin/voxclip-safety/internal/services/activity"
	"github.com/ivankudzin/voxclip-safety/internal/services/farming"
	"github.com/ivankudzin/voxclip-safety/internal/services/ipreputation"
	"github.com/ivankudzin/voxclip-safety/internal/services/ratelimit"
)

const (
	ReasonBlacklisted = "ip_blacklisted"

	subjectPrefixIP      = "ip:"
	subjectPrefixProfile = "profile:"
	dashboardTimeout     = 250 * time.Millisecond
)

type Reputation interface {
	IsBlacklisted(ctx context.Context, ip string) (bool, error)
	DetectSuspiciousPattern(ctx context.Context, ip, actionType string, windowMinutes int) (ipreputation.PatternResult, error)
}

type Limiter interface {
	Enforce(ctx context.Context, subject, actionType string, maxRequests, windowMinutes int) (ratelimit.Decision, error)
}

type Ledger interface {
	LogIPActivity(ctx context.Context, entry activity.Entry) (model.ActivityRecord, error)
}

type FarmingGuard interface {
	Enforce(ctx context.Context, target uuid.UUID, source *uuid.UUID, actionType string, cooldownMinutes int) (farming.Verdict, error)
	LogReputationAction(ctx context.Context, action farming.Action) (model.ReputationAction, error)
}

// Dashboard counts rejections for the abuse dashboard.
type Dashboard interface {
	Observe(ctx context.Context, outcome, ip string) error
}

// Policy holds the limits of one action type. Zero limits skip a check.
type Policy struct {
	IPMax                  int
	IPWindowMinutes        int
	SubjectMax             int
	SubjectWindowMinutes   int
	PatternWindowMinutes   int
	FarmingCooldownMinutes int
}

type PolicyFunc func(actionType string) Policy

type Service struct {
	reputation Reputation
	limiter    Limiter
	ledger     Ledger
	farming    FarmingGuard
	dashboard  Dashboard
	policies   PolicyFunc
	logger     *zap.Logger
}

func NewService(reputation Reputation, limiter Limiter, ledger Ledger, guard FarmingGuard, dashboard Dashboard, policies PolicyFunc, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policies == nil {
		policies = func(string) Policy { return Policy{} }
	}
	return &Service{
		reputation: reputation,
		limiter:    limiter,
		ledger:     ledger,
		farming:    guard,
		dashboard:  dashboard,
		policies:   policies,
		logger:     logger,
	}
}

type InboundRequest struct {
	IP         string
	ActionType string
	ProfileID  *uuid.UUID
	ResourceID *string
	DeviceID   *string
	UserAgent  *string
	Metadata   map[string]any
}

// InboundVerdict lists the checks a request went through. Degraded is set when a
// risk read failed and the request was admitted anyway.
type InboundVerdict struct {
	Allowed      bool                        `json:"allowed"`
	Pattern      *ipreputation.PatternResult `json:"pattern,omitempty"`
	IPLimit      *ratelimit.Decision         `json:"ip_limit,omitempty"`
	SubjectLimit *ratelimit.Decision         `json:"subject_limit,omitempty"`
	Degraded     bool                        `json:"degraded,omitempty"`
}

// CheckInbound runs the risk checks for one request in order: blacklist, suspicious
// pattern, per-IP limit, per-profile limit. An admitted request is written to the ledger.
// Rejections come back as *errs.BlockedError or *errs.RateLimitedError with the verdict
// gathered so far.
func (s *Service) CheckInbound(ctx context.Context, req InboundRequest) (InboundVerdict, error) {
	ip, err := activity.NormalizeIP(req.IP)
	if err != nil {
		return InboundVerdict{}, err
	}
	actionType := strings.ToLower(strings.TrimSpace(req.ActionType))
	if actionType == "" {
		return InboundVerdict{}, fmt.Errorf("%w: action type is required", errs.ErrValidation)
	}
	if req.ProfileID != nil && *req.ProfileID == uuid.Nil {
		req.ProfileID = nil
	}
	policy := s.policies(actionType)

	var verdict InboundVerdict

	if s.reputation != nil {
		blocked, err := s.reputation.IsBlacklisted(ctx, ip)
		if err != nil {
			return verdict, err
		}
		if blocked {
			blockedCounter.WithLabelValues(ReasonBlacklisted).Inc()
			s.observe(ctx, redrepo.OutcomeBlocked, ip)
			return verdict, &errs.BlockedError{Reason: ReasonBlacklisted}
		}

		if policy.PatternWindowMinutes > 0 {
			pattern, err := s.reputation.DetectSuspiciousPattern(ctx, ip, actionType, policy.PatternWindowMinutes)
			if err != nil {
				return verdict, err
			}
			verdict.Pattern = &pattern
			verdict.Degraded = verdict.Degraded || pattern.Degraded
			if pattern.Blocks() {
				blockedCounter.WithLabelValues(string(pattern.PatternType)).Inc()
				s.observe(ctx, redrepo.OutcomeBlocked, ip)
				return verdict, &errs.BlockedError{Reason: string(pattern.PatternType), Severity: string(pattern.Severity)}
			}
		}
	}

	if s.limiter != nil && policy.IPMax > 0 && policy.IPWindowMinutes > 0 {
		decision, err := s.limiter.Enforce(ctx, subjectPrefixIP+ip, actionType, policy.IPMax, policy.IPWindowMinutes)
		verdict.IPLimit = &decision
		verdict.Degraded = verdict.Degraded || decision.Degraded
		if err != nil {
			s.observeLimitError(ctx, err, ip)
			return verdict, err
		}
	}

	if s.limiter != nil && req.ProfileID != nil && policy.SubjectMax > 0 && policy.SubjectWindowMinutes > 0 {
		decision, err := s.limiter.Enforce(ctx, subjectPrefixProfile+req.ProfileID.String(), actionType, policy.SubjectMax, policy.SubjectWindowMinutes)
		verdict.SubjectLimit = &decision
		verdict.Degraded = verdict.Degraded || decision.Degraded
		if err != nil {
			s.observeLimitError(ctx, err, ip)
			return verdict, err
		}
	}

	if verdict.Degraded {
		s.observe(ctx, redrepo.OutcomeFailOpen, ip)
	}

	if s.ledger != nil {
		if _, err := s.ledger.LogIPActivity(ctx, activity.Entry{
			IP:         ip,
			ActionType: actionType,
			ProfileID:  req.ProfileID,
			ResourceID: req.ResourceID,
			DeviceID:   req.DeviceID,
			UserAgent:  req.UserAgent,
			Metadata:   req.Metadata,
		}); err != nil {
			return verdict, err
		}
	}

	verdict.Allowed = true
	return verdict, nil
}

type ReputationRequest struct {
	TargetProfileID uuid.UUID
	SourceProfileID *uuid.UUID
	ActionType      string
	ResourceID      *string
	Points          int
}

// AdmitReputationAction consults the farming guard with the action's cooldown and
// records the action only when it is admitted.
func (s *Service) AdmitReputationAction(ctx context.Context, req ReputationRequest) (farming.Verdict, model.ReputationAction, error) {
	if s.farming == nil {
		return farming.Verdict{}, model.ReputationAction{}, errs.Unavailable(fmt.Errorf("farming guard is nil"))
	}
	actionType := strings.ToLower(strings.TrimSpace(req.ActionType))
	if actionType == "" {
		return farming.Verdict{}, model.ReputationAction{}, fmt.Errorf("%w: action type is required", errs.ErrValidation)
	}
	policy := s.policies(actionType)
	if policy.FarmingCooldownMinutes <= 0 {
		return farming.Verdict{}, model.ReputationAction{}, fmt.Errorf("%w: action %q has no farming cooldown", errs.ErrValidation, actionType)
	}

	verdict, err := s.farming.Enforce(ctx, req.TargetProfileID, req.SourceProfileID, actionType, policy.FarmingCooldownMinutes)
	if err != nil {
		if _, ok := errs.IsFarming(err); ok {
			s.observe(ctx, redrepo.OutcomeFarming, "")
		}
		return verdict, model.ReputationAction{}, err
	}
	if verdict.Degraded {
		s.observe(ctx, redrepo.OutcomeFailOpen, "")
	}

	recorded, err := s.farming.LogReputationAction(ctx, farming.Action{
		TargetProfileID: req.TargetProfileID,
		SourceProfileID: req.SourceProfileID,
		ActionType:      actionType,
		ResourceID:      req.ResourceID,
		Points:          req.Points,
	})
	if err != nil {
		return verdict, model.ReputationAction{}, err
	}
	return verdict, recorded, nil
}

func (s *Service) observeLimitError(ctx context.Context, err error, ip string) {
	if _, ok := errs.IsRateLimited(err); ok {
		s.observe(ctx, redrepo.OutcomeRateLimited, ip)
	}
}

func (s *Service) observe(ctx context.Context, outcome, ip string) {
	if s.dashboard == nil {
		return
	}
	observeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dashboardTimeout)
	defer cancel()
	if err := s.dashboard.Observe(observeCtx, outcome, ip); err != nil {
		s.logger.Debug("dashboard counter update failed", zap.String("outcome", outcome), zap.Error(err))
	}
}
