package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ivankudzin/voxclip-safety/internal/domain/enums"
	"github.com/ivankudzin/voxclip-safety/internal/domain/errs"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
	redrepo "github.com/ivankudzin/voxclip-safety/internal/repo/redis"
	"github.com/ivankudzin/voxclip-safety/internal/services/activity"
	"github.com/ivankudzin/voxclip-safety/internal/services/farming"
	"github.com/ivankudzin/voxclip-safety/internal/services/ipreputation"
	"github.com/ivankudzin/voxclip-safety/internal/services/ratelimit"
)

func TestCheckInboundRejectsBlacklistedIPFirst(t *testing.T) {
	h := newHarness(t, Policy{IPMax: 5, IPWindowMinutes: 1, PatternWindowMinutes: 60})
	h.reputation.blacklisted["198.51.100.7"] = true

	_, err := h.svc.CheckInbound(context.Background(), InboundRequest{IP: "198.51.100.7", ActionType: "voice_comment"})
	blocked, ok := errs.IsBlocked(err)
	if !ok || blocked.Reason != ReasonBlacklisted {
		t.Fatalf("expected blacklist block, got %v", err)
	}
	if h.reputation.patternCalls != 0 {
		t.Fatalf("pattern detection must not run for a blacklisted ip")
	}
	if len(h.ledger.entries) != 0 {
		t.Fatalf("rejected request must not be recorded")
	}

	summary := h.summary(t)
	if summary.Blocked1h != 1 {
		t.Fatalf("expected blocked counter 1, got %+v", summary)
	}
}

func TestCheckInboundBlocksOnlyCriticalPatterns(t *testing.T) {
	h := newHarness(t, Policy{IPMax: 50, IPWindowMinutes: 1, PatternWindowMinutes: 60})
	ctx := context.Background()

	h.reputation.pattern = ipreputation.PatternResult{IsSuspicious: true, PatternType: enums.PatternHighVolume, Severity: enums.SeverityHigh, Count: 300}
	verdict, err := h.svc.CheckInbound(ctx, InboundRequest{IP: "203.0.113.9", ActionType: "comment"})
	if err != nil {
		t.Fatalf("high severity must be admitted: %v", err)
	}
	if !verdict.Allowed || verdict.Pattern == nil || verdict.Pattern.Severity != enums.SeverityHigh {
		t.Fatalf("expected pattern in verdict: %+v", verdict)
	}

	h.reputation.pattern = ipreputation.PatternResult{IsSuspicious: true, PatternType: enums.PatternAccountFarm, Severity: enums.SeverityCritical, Count: 25}
	_, err = h.svc.CheckInbound(ctx, InboundRequest{IP: "203.0.113.9", ActionType: "comment"})
	blocked, ok := errs.IsBlocked(err)
	if !ok || blocked.Reason != string(enums.PatternAccountFarm) || blocked.Severity != string(enums.SeverityCritical) {
		t.Fatalf("expected critical pattern block, got %v", err)
	}
	if len(h.ledger.entries) != 1 {
		t.Fatalf("expected only the admitted request in the ledger, got %d", len(h.ledger.entries))
	}
}

func TestCheckInboundAppliesIPLimitThenRecords(t *testing.T) {
	h := newHarness(t, Policy{IPMax: 2, IPWindowMinutes: 1})
	ctx := context.Background()
	req := InboundRequest{IP: "::ffff:192.0.2.44", ActionType: "Voice_Comment"}

	for i := 0; i < 2; i++ {
		verdict, err := h.svc.CheckInbound(ctx, req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if verdict.IPLimit == nil || verdict.IPLimit.Remaining != 1-i {
			t.Fatalf("request %d: unexpected ip limit %+v", i, verdict.IPLimit)
		}
	}

	_, err := h.svc.CheckInbound(ctx, req)
	limited, ok := errs.IsRateLimited(err)
	if !ok {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if limited.Subject != "ip:192.0.2.44" || limited.ActionType != "voice_comment" || limited.RetryAfterSec() < 1 {
		t.Fatalf("unexpected rate limit error: %+v", limited)
	}

	if len(h.ledger.entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(h.ledger.entries))
	}
	if h.ledger.entries[0].IP != "192.0.2.44" || h.ledger.entries[0].ActionType != "voice_comment" {
		t.Fatalf("expected normalized ledger entry, got %+v", h.ledger.entries[0])
	}

	top, err := redrepo.NewDashboardRepo(h.client).Top(ctx, 5)
	if err != nil {
		t.Fatalf("top offenders: %v", err)
	}
	if len(top) != 1 || top[0].ID != "192.0.2.44" || top[0].Score != 1 {
		t.Fatalf("unexpected offenders: %+v", top)
	}
}

func TestCheckInboundLimitsProfilesIndependently(t *testing.T) {
	h := newHarness(t, Policy{IPMax: 100, IPWindowMinutes: 1, SubjectMax: 1, SubjectWindowMinutes: 1})
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	if _, err := h.svc.CheckInbound(ctx, InboundRequest{IP: "192.0.2.1", ActionType: "reaction", ProfileID: &alice}); err != nil {
		t.Fatalf("alice first: %v", err)
	}
	if _, err := h.svc.CheckInbound(ctx, InboundRequest{IP: "192.0.2.1", ActionType: "reaction", ProfileID: &bob}); err != nil {
		t.Fatalf("bob first: %v", err)
	}
	verdict, err := h.svc.CheckInbound(ctx, InboundRequest{IP: "192.0.2.1", ActionType: "reaction", ProfileID: &alice})
	if _, ok := errs.IsRateLimited(err); !ok {
		t.Fatalf("expected alice to be limited, got %v", err)
	}
	if verdict.IPLimit == nil || !verdict.IPLimit.Allowed {
		t.Fatalf("ip limit should have passed before the profile limit: %+v", verdict)
	}
	if _, err := h.svc.CheckInbound(ctx, InboundRequest{IP: "192.0.2.1", ActionType: "reaction"}); err != nil {
		t.Fatalf("anonymous request must skip the profile limit: %v", err)
	}
}

func TestCheckInboundFailsOpenWhenReputationDegraded(t *testing.T) {
	h := newHarness(t, Policy{PatternWindowMinutes: 60})
	h.reputation.pattern = ipreputation.PatternResult{Degraded: true}

	verdict, err := h.svc.CheckInbound(context.Background(), InboundRequest{IP: "192.0.2.50", ActionType: "comment"})
	if err != nil {
		t.Fatalf("check inbound: %v", err)
	}
	if !verdict.Allowed || !verdict.Degraded {
		t.Fatalf("expected degraded admission, got %+v", verdict)
	}
	if summary := h.summary(t); summary.FailOpen1h != 1 {
		t.Fatalf("expected fail-open counter 1, got %+v", summary)
	}
}

func TestCheckInboundPropagatesFailClosedErrors(t *testing.T) {
	h := newHarness(t, Policy{PatternWindowMinutes: 60})
	h.reputation.err = errs.Unavailable(errors.New("postgres down"))

	_, err := h.svc.CheckInbound(context.Background(), InboundRequest{IP: "192.0.2.50", ActionType: "comment"})
	if !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestCheckInboundValidatesInput(t *testing.T) {
	h := newHarness(t, Policy{})
	ctx := context.Background()

	if _, err := h.svc.CheckInbound(ctx, InboundRequest{IP: "not-an-ip", ActionType: "comment"}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ip validation, got %v", err)
	}
	if _, err := h.svc.CheckInbound(ctx, InboundRequest{IP: "192.0.2.1"}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected action validation, got %v", err)
	}
}

func TestAdmitReputationActionLogsOnlyAdmitted(t *testing.T) {
	h := newHarness(t, Policy{FarmingCooldownMinutes: 60})
	ctx := context.Background()
	target, source := uuid.New(), uuid.New()
	req := ReputationRequest{TargetProfileID: target, SourceProfileID: &source, ActionType: "endorsement", Points: 5}

	verdict, recorded, err := h.svc.AdmitReputationAction(ctx, req)
	if err != nil {
		t.Fatalf("first endorsement: %v", err)
	}
	if verdict.IsFarming || recorded.Points != 5 || len(h.guard.logged) != 1 {
		t.Fatalf("expected admitted action, verdict=%+v recorded=%+v", verdict, recorded)
	}
	if h.guard.cooldown != 60 {
		t.Fatalf("expected policy cooldown, got %d", h.guard.cooldown)
	}

	h.guard.farming = true
	_, _, err = h.svc.AdmitReputationAction(ctx, req)
	if _, ok := errs.IsFarming(err); !ok {
		t.Fatalf("expected farming error, got %v", err)
	}
	if len(h.guard.logged) != 1 {
		t.Fatalf("rejected action must not be logged")
	}
	if summary := h.summary(t); summary.Farming1h != 1 {
		t.Fatalf("expected farming counter 1, got %+v", summary)
	}
}

func TestAdmitReputationActionRequiresCooldown(t *testing.T) {
	h := newHarness(t, Policy{})
	_, _, err := h.svc.AdmitReputationAction(context.Background(), ReputationRequest{TargetProfileID: uuid.New(), ActionType: "comment"})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type harness struct {
	svc        *Service
	client     *goredis.Client
	reputation *fakeReputation
	ledger     *fakeLedger
	guard      *fakeGuard
}

func newHarness(t *testing.T, policy Policy) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	limiter := ratelimit.NewLimiter(redrepo.NewRateRepo(client), ratelimit.Config{StoreTimeout: time.Second, FailOpen: true}, nil)
	h := &harness{
		client:     client,
		reputation: &fakeReputation{blacklisted: map[string]bool{}},
		ledger:     &fakeLedger{},
		guard:      &fakeGuard{},
	}
	h.svc = NewService(h.reputation, limiter, h.ledger, h.guard, redrepo.NewDashboardRepo(client),
		func(string) Policy { return policy }, nil)
	return h
}

func (h *harness) summary(t *testing.T) redrepo.SafetySummary {
	t.Helper()
	summary, err := redrepo.NewDashboardRepo(h.client).Summary(context.Background())
	if err != nil {
		t.Fatalf("dashboard summary: %v", err)
	}
	return summary
}

type fakeReputation struct {
	blacklisted  map[string]bool
	pattern      ipreputation.PatternResult
	patternCalls int
	err          error
}

func (f *fakeReputation) IsBlacklisted(_ context.Context, ip string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.blacklisted[ip], nil
}

func (f *fakeReputation) DetectSuspiciousPattern(_ context.Context, _, _ string, _ int) (ipreputation.PatternResult, error) {
	f.patternCalls++
	return f.pattern, nil
}

type fakeLedger struct {
	entries []activity.Entry
}

func (f *fakeLedger) LogIPActivity(_ context.Context, entry activity.Entry) (model.ActivityRecord, error) {
	f.entries = append(f.entries, entry)
	return model.ActivityRecord{Subject: entry.IP, ActionType: entry.ActionType}, nil
}

type fakeGuard struct {
	farming  bool
	cooldown int
	logged   []farming.Action
}

func (f *fakeGuard) Enforce(_ context.Context, _ uuid.UUID, _ *uuid.UUID, _ string, cooldownMinutes int) (farming.Verdict, error) {
	f.cooldown = cooldownMinutes
	if f.farming {
		verdict := farming.Verdict{IsFarming: true, Reason: farming.ReasonCooldown, Count: 1, RetryAfter: time.Hour}
		return verdict, &errs.FarmingError{Reason: verdict.Reason, Count: 1, RetryAfter: time.Hour}
	}
	return farming.Verdict{}, nil
}

func (f *fakeGuard) LogReputationAction(_ context.Context, action farming.Action) (model.ReputationAction, error) {
	f.logged = append(f.logged, action)
	return model.ReputationAction{TargetProfileID: action.TargetProfileID, ActionType: action.ActionType, Points: action.Points}, nil
}
