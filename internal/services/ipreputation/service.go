package ipreputation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/voxclip-safety/internal/domain/enums"
	"github.com/ivankudzin/voxclip-safety/internal/domain/errs"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
	"github.com/ivankudzin/voxclip-safety/internal/domain/rules"
	"github.com/ivankudzin/voxclip-safety/internal/services/activity"
)

const (
	AuditActionBlacklist   = "ip_blacklist.add"
	AuditActionUnblacklist = "ip_blacklist.remove"
	auditTargetIP          = "ip_address"

	maxReasonLength  = 500
	defaultListLimit = 100
	maxListLimit     = 1000
)

type BlacklistStore interface {
	IsActive(ctx context.Context, ip string, now time.Time) (bool, error)
	Get(ctx context.Context, ip string) (model.IPBlacklistEntry, error)
	Upsert(ctx context.Context, entry model.IPBlacklistEntry) (model.IPBlacklistEntry, error)
	Deactivate(ctx context.Context, ip string) (model.IPBlacklistEntry, error)
	List(ctx context.Context, activeOnly bool, now time.Time, limit int) ([]model.IPBlacklistEntry, error)
}

type AuditRecorder interface {
	RecordAdminAction(ctx context.Context, actor model.Actor, action, targetType, targetID string, before, after map[string]any)
}

type Config struct {
	StoreTimeout time.Duration
	FailOpen     bool
}

type PatternResult struct {
	IsSuspicious bool              `json:"is_suspicious"`
	PatternType  enums.PatternType `json:"pattern_type,omitempty"`
	Severity     enums.Severity    `json:"severity,omitempty"`
	Count        int64             `json:"count"`
	LastSeenAt   *time.Time        `json:"last_seen_at,omitempty"`
	Degraded     bool              `json:"degraded,omitempty"`
}

// Blocks reports whether the pattern alone is enough to reject a request.
func (r PatternResult) Blocks() bool {
	return r.IsSuspicious && r.Severity == enums.SeverityCritical
}

type BlacklistInput struct {
	IP        string
	Reason    string
	ExpiresAt *time.Time
}

type Service struct {
	blacklist BlacklistStore
	detector  Detector
	audit     AuditRecorder
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(blacklist BlacklistStore, detector Detector, audit AuditRecorder, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		blacklist: blacklist,
		detector:  detector,
		audit:     audit,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *Service) IsBlacklisted(ctx context.Context, ip string) (bool, error) {
	ip, err := activity.NormalizeIP(ip)
	if err != nil {
		return false, err
	}
	if s.blacklist == nil {
		return false, s.readFailed("blacklist", ip, fmt.Errorf("blacklist store is nil"))
	}

	readCtx, cancel := s.readContext(ctx)
	defer cancel()

	active, err := s.blacklist.IsActive(readCtx, ip, s.now().UTC())
	if err != nil {
		return false, s.readFailed("blacklist", ip, err)
	}
	return active, nil
}

func (s *Service) DetectSuspiciousPattern(ctx context.Context, ip, actionType string, windowMinutes int) (PatternResult, error) {
	ip, err := activity.NormalizeIP(ip)
	if err != nil {
		return PatternResult{}, err
	}
	actionType = strings.ToLower(strings.TrimSpace(actionType))
	if actionType == "" {
		return PatternResult{}, fmt.Errorf("%w: action type is required", errs.ErrValidation)
	}
	if windowMinutes <= 0 {
		return PatternResult{}, fmt.Errorf("%w: window minutes must be positive", errs.ErrValidation)
	}
	if s.detector == nil {
		if err := s.readFailed("pattern", ip, fmt.Errorf("pattern detector is nil")); err != nil {
			return PatternResult{}, err
		}
		return PatternResult{Degraded: true}, nil
	}

	readCtx, cancel := s.readContext(ctx)
	defer cancel()

	pattern, err := s.detector.Detect(readCtx, ip, actionType, rules.WindowDuration(windowMinutes))
	if errors.Is(err, errs.ErrValidation) {
		return PatternResult{}, err
	}
	if err != nil {
		if err := s.readFailed("pattern", ip, err); err != nil {
			return PatternResult{}, err
		}
		return PatternResult{Degraded: true}, nil
	}

	if pattern.PatternType == "" || pattern.Severity == enums.SeverityNone {
		return PatternResult{LastSeenAt: pattern.LastSeenAt}, nil
	}
	patternsCounter.WithLabelValues(string(pattern.PatternType), string(pattern.Severity)).Inc()
	return PatternResult{
		IsSuspicious: true,
		PatternType:  pattern.PatternType,
		Severity:     pattern.Severity,
		Count:        pattern.Count,
		LastSeenAt:   pattern.LastSeenAt,
	}, nil
}

func (s *Service) Blacklist(ctx context.Context, actor model.Actor, input BlacklistInput) (model.IPBlacklistEntry, error) {
	ip, err := activity.NormalizeIP(input.IP)
	if err != nil {
		return model.IPBlacklistEntry{}, err
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" || len(reason) > maxReasonLength {
		return model.IPBlacklistEntry{}, fmt.Errorf("%w: reason is required and must be at most %d characters", errs.ErrValidation, maxReasonLength)
	}
	now := s.now().UTC()
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		return model.IPBlacklistEntry{}, fmt.Errorf("%w: expires_at must be in the future", errs.ErrValidation)
	}
	if s.blacklist == nil {
		return model.IPBlacklistEntry{}, errs.Unavailable(fmt.Errorf("blacklist store is nil"))
	}

	var before map[string]any
	previous, err := s.blacklist.Get(ctx, ip)
	switch {
	case err == nil:
		before = blacklistSnapshot(previous)
	case errors.Is(err, errs.ErrNotFound):
	default:
		return model.IPBlacklistEntry{}, errs.Unavailable(err)
	}

	entry, err := s.blacklist.Upsert(ctx, model.IPBlacklistEntry{
		IPAddress: ip,
		Reason:    reason,
		BannedBy:  actor.AdminID,
		BannedAt:  now,
		ExpiresAt: input.ExpiresAt,
		IsActive:  true,
	})
	if err != nil {
		return model.IPBlacklistEntry{}, errs.Unavailable(err)
	}

	s.recordAudit(ctx, actor, AuditActionBlacklist, ip, before, blacklistSnapshot(entry))
	return entry, nil
}

func (s *Service) Unblacklist(ctx context.Context, actor model.Actor, ip string) (model.IPBlacklistEntry, error) {
	ip, err := activity.NormalizeIP(ip)
	if err != nil {
		return model.IPBlacklistEntry{}, err
	}
	if s.blacklist == nil {
		return model.IPBlacklistEntry{}, errs.Unavailable(fmt.Errorf("blacklist store is nil"))
	}

	previous, err := s.blacklist.Get(ctx, ip)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.IPBlacklistEntry{}, err
		}
		return model.IPBlacklistEntry{}, errs.Unavailable(err)
	}

	entry, err := s.blacklist.Deactivate(ctx, ip)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.IPBlacklistEntry{}, err
		}
		return model.IPBlacklistEntry{}, errs.Unavailable(err)
	}

	s.recordAudit(ctx, actor, AuditActionUnblacklist, ip, blacklistSnapshot(previous), blacklistSnapshot(entry))
	return entry, nil
}

func (s *Service) ListBlacklist(ctx context.Context, activeOnly bool, limit int) ([]model.IPBlacklistEntry, error) {
	if s.blacklist == nil {
		return nil, errs.Unavailable(fmt.Errorf("blacklist store is nil"))
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	entries, err := s.blacklist.List(ctx, activeOnly, s.now().UTC(), limit)
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	return entries, nil
}

func (s *Service) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

// readFailed applies the failure policy of risk reads: nil means admit.
func (s *Service) readFailed(check, ip string, cause error) error {
	if !s.cfg.FailOpen {
		return errs.Unavailable(fmt.Errorf("%s read: %w", check, cause))
	}
	failOpenCounter.WithLabelValues(check).Inc()
	s.logger.Warn("ip reputation store unavailable, failing open",
		zap.String("check", check),
		zap.String("ip", ip),
		zap.Error(cause),
	)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor model.Actor, action, ip string, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.RecordAdminAction(ctx, actor, action, auditTargetIP, ip, before, after)
}

func blacklistSnapshot(entry model.IPBlacklistEntry) map[string]any {
	snapshot := map[string]any{
		"ip_address": entry.IPAddress,
		"reason":     entry.Reason,
		"banned_at":  entry.BannedAt.UTC().Format(time.RFC3339),
		"is_active":  entry.IsActive,
	}
	if entry.BannedBy != nil {
		snapshot["banned_by"] = entry.BannedBy.String()
	}
	if entry.ExpiresAt != nil {
		snapshot["expires_at"] = entry.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return snapshot
}
