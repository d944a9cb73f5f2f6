package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ivankudzin/voxclip-safety/internal/domain/errs"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

func TestRateRepoStopsAtMax(t *testing.T) {
	_, client := newMiniRedisClient(t)
	repo := NewRateRepo(client)
	ctx := context.Background()

	windowStart := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	counter := model.RateLimitCounter{
		Subject:       "203.0.113.5",
		ActionType:    "voice_comment",
		WindowStart:   windowStart,
		MaxRequests:   3,
		WindowMinutes: 1,
	}

	for i := 1; i <= 3; i++ {
		count, allowed, err := repo.Increment(ctx, counter)
		if err != nil {
			t.Fatalf("increment #%d: %v", i, err)
		}
		if !allowed || count != i {
			t.Fatalf("unexpected result #%d: count=%d allowed=%v", i, count, allowed)
		}
	}

	count, allowed, err := repo.Increment(ctx, counter)
	if err != nil {
		t.Fatalf("increment #4: %v", err)
	}
	if allowed || count != 3 {
		t.Fatalf("expected denial at max, got count=%d allowed=%v", count, allowed)
	}

	stored, err := repo.WindowCount(ctx, counter.Subject, counter.ActionType, counter.WindowMinutes, windowStart)
	if err != nil {
		t.Fatalf("window count: %v", err)
	}
	if stored != 3 {
		t.Fatalf("expected stored count 3, got %d", stored)
	}

	counter.WindowStart = windowStart.Add(time.Minute)
	count, allowed, err = repo.Increment(ctx, counter)
	if err != nil {
		t.Fatalf("increment next window: %v", err)
	}
	if !allowed || count != 1 {
		t.Fatalf("expected fresh window, got count=%d allowed=%v", count, allowed)
	}
}

func TestRateRepoKeepsWindowLengthsApart(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	repo := NewRateRepo(client)
	ctx := context.Background()

	windowStart := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	hourly := model.RateLimitCounter{
		Subject:       "ip:203.0.113.5",
		ActionType:    "voice_comment",
		WindowStart:   windowStart,
		MaxRequests:   100,
		WindowMinutes: 60,
	}
	minutely := hourly
	minutely.MaxRequests = 3
	minutely.WindowMinutes = 1

	for i := 1; i <= 3; i++ {
		if _, allowed, err := repo.Increment(ctx, hourly); err != nil || !allowed {
			t.Fatalf("hourly increment #%d: allowed=%v err=%v", i, allowed, err)
		}
	}

	count, allowed, err := repo.Increment(ctx, minutely)
	if err != nil {
		t.Fatalf("minutely increment: %v", err)
	}
	if !allowed || count != 1 {
		t.Fatalf("expected fresh 1-minute window, got count=%d allowed=%v", count, allowed)
	}

	hourlyKey := RateWindowKey(hourly.Subject, hourly.ActionType, hourly.WindowMinutes, windowStart)
	if ttl := mr.TTL(hourlyKey); ttl != 2*time.Hour {
		t.Fatalf("expected hourly key ttl 2h, got %s", ttl)
	}
	stored, err := repo.WindowCount(ctx, hourly.Subject, hourly.ActionType, hourly.WindowMinutes, windowStart)
	if err != nil {
		t.Fatalf("hourly window count: %v", err)
	}
	if stored != 3 {
		t.Fatalf("expected hourly count 3, got %d", stored)
	}
}

func TestRateRepoNeverOvershootsUnderConcurrency(t *testing.T) {
	_, client := newMiniRedisClient(t)
	repo := NewRateRepo(client)
	ctx := context.Background()

	counter := model.RateLimitCounter{
		Subject:       "198.51.100.7",
		ActionType:    "reaction",
		WindowStart:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		MaxRequests:   5,
		WindowMinutes: 1,
	}

	var (
		admitted atomic.Int64
		wg       sync.WaitGroup
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, allowed, err := repo.Increment(ctx, counter)
			if err != nil {
				t.Errorf("increment: %v", err)
				return
			}
			if allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 5 {
		t.Fatalf("expected exactly 5 admitted, got %d", got)
	}
}

func TestRateRepoKeyExpires(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	repo := NewRateRepo(client)
	ctx := context.Background()

	windowStart := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	counter := model.RateLimitCounter{
		Subject:       "u1",
		ActionType:    "report",
		WindowStart:   windowStart,
		MaxRequests:   1,
		WindowMinutes: 1,
	}
	if _, _, err := repo.Increment(ctx, counter); err != nil {
		t.Fatalf("increment: %v", err)
	}

	key := RateWindowKey(counter.Subject, counter.ActionType, counter.WindowMinutes, windowStart)
	if ttl := mr.TTL(key); ttl != 2*time.Minute {
		t.Fatalf("expected 2m ttl, got %s", ttl)
	}
	mr.FastForward(3 * time.Minute)
	if mr.Exists(key) {
		t.Fatalf("expected window key to expire")
	}
}

func TestActivityCounterRepoAggregatesWindow(t *testing.T) {
	_, client := newMiniRedisClient(t)
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	repo := NewActivityCounterRepo(client, func() time.Time { return now })
	ctx := context.Background()

	ip := "203.0.113.9"
	profiles := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for i, profile := range profiles {
		profile := profile
		record := model.ActivityRecord{
			Subject:    ip,
			ActionType: "voice_comment",
			ProfileID:  &profile,
			CreatedAt:  now.Add(-time.Duration(i*10) * time.Minute),
		}
		if err := repo.Observe(ctx, record); err != nil {
			t.Fatalf("observe comment: %v", err)
		}
		if err := repo.Observe(ctx, record); err != nil {
			t.Fatalf("observe repeat comment: %v", err)
		}
	}
	created := profiles[0]
	if err := repo.Observe(ctx, model.ActivityRecord{
		Subject:    ip,
		ActionType: "account_create",
		ProfileID:  &created,
		CreatedAt:  now.Add(-5 * time.Minute),
	}); err != nil {
		t.Fatalf("observe account creation: %v", err)
	}
	old := uuid.New()
	if err := repo.Observe(ctx, model.ActivityRecord{
		Subject:    ip,
		ActionType: "voice_comment",
		ProfileID:  &old,
		CreatedAt:  now.Add(-2 * time.Hour),
	}); err != nil {
		t.Fatalf("observe old comment: %v", err)
	}

	agg, err := repo.AggregateIP(ctx, ip, "voice_comment", "account_create", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.ActionCount != 6 {
		t.Fatalf("expected 6 actions in window, got %d", agg.ActionCount)
	}
	if agg.DistinctProfiles != 3 {
		t.Fatalf("expected 3 distinct profiles, got %d", agg.DistinctProfiles)
	}
	if agg.AccountsCreated != 1 {
		t.Fatalf("expected 1 account created, got %d", agg.AccountsCreated)
	}
	if agg.LastSeenAt == nil || !agg.LastSeenAt.Equal(now) {
		t.Fatalf("expected last seen at %s, got %v", now, agg.LastSeenAt)
	}

	empty, err := repo.AggregateIP(ctx, "192.0.2.1", "voice_comment", "account_create", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("aggregate unknown ip: %v", err)
	}
	if empty.ActionCount != 0 || empty.DistinctProfiles != 0 || empty.LastSeenAt != nil {
		t.Fatalf("expected empty aggregate, got %+v", empty)
	}
}

func TestActivityCounterRepoRejectsWindowsBeyondRetention(t *testing.T) {
	_, client := newMiniRedisClient(t)
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	repo := NewActivityCounterRepo(client, func() time.Time { return now })
	ctx := context.Background()

	_, err := repo.AggregateIP(ctx, "203.0.113.9", "voice_comment", "", now.Add(-25*time.Hour))
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation error for a 25h window, got %v", err)
	}

	if _, err := repo.AggregateIP(ctx, "203.0.113.9", "voice_comment", "", now.Add(-24*time.Hour)); err != nil {
		t.Fatalf("expected a 24h window to be served: %v", err)
	}
}

func TestDashboardRepoSummaryAndTop(t *testing.T) {
	_, client := newMiniRedisClient(t)
	repo := NewDashboardRepo(client)
	ctx := context.Background()

	observe := func(outcome, ip string) {
		t.Helper()
		if err := repo.Observe(ctx, outcome, ip); err != nil {
			t.Fatalf("observe %s: %v", outcome, err)
		}
	}
	observe(OutcomeRateLimited, "203.0.113.5")
	observe(OutcomeRateLimited, "203.0.113.5")
	observe(OutcomeBlocked, "198.51.100.1")
	observe(OutcomeFailOpen, "198.51.100.2")
	observe("unknown", "198.51.100.3")

	summary, err := repo.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.RateLimited1h != 2 || summary.Blocked1h != 1 || summary.Farming1h != 0 || summary.FailOpen1h != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	top, err := repo.Top(ctx, 10)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 offenders, got %d", len(top))
	}
	if top[0].ID != "203.0.113.5" || top[0].Score != 2 {
		t.Fatalf("unexpected top offender: %+v", top[0])
	}
}

func TestDashboardRepoCountersResetUnderSteadyTraffic(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	repo := NewDashboardRepo(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := repo.Observe(ctx, OutcomeBlocked, "203.0.113.5"); err != nil {
			t.Fatalf("observe #%d: %v", i, err)
		}
		mr.FastForward(25 * time.Minute)
	}
	// 75 minutes after the first observation the hourly counter has reset.
	summary, err := repo.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Blocked1h != 0 {
		t.Fatalf("expected hourly counter to reset, got %d", summary.Blocked1h)
	}
	if ttl := mr.TTL(OffendersIP24hKey); ttl != 24*time.Hour-75*time.Minute {
		t.Fatalf("expected offender ttl to keep counting down, got %s", ttl)
	}

	if err := repo.Observe(ctx, OutcomeBlocked, ""); err != nil {
		t.Fatalf("observe after reset: %v", err)
	}
	if ttl := mr.TTL(CounterBlocked1hKey); ttl != time.Hour {
		t.Fatalf("expected a fresh hourly ttl, got %s", ttl)
	}
}

func TestLeaderLockIsExclusive(t *testing.T) {
	_, client := newMiniRedisClient(t)
	ctx := context.Background()

	first := NewLeaderLock(client, "lock:test", time.Minute, nil)
	second := NewLeaderLock(client, "lock:test", time.Minute, nil)

	ran, err := first.TryRun(ctx, func(ctx context.Context) error {
		inner, err := second.TryRun(ctx, func(context.Context) error { return nil })
		if err != nil {
			t.Fatalf("nested try run: %v", err)
		}
		if inner {
			t.Fatalf("expected second lock holder to be refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("try run: %v", err)
	}
	if !ran {
		t.Fatalf("expected first lock holder to run")
	}

	ran, err = second.TryRun(ctx, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("try run after release: %v", err)
	}
	if !ran {
		t.Fatalf("expected lock to be free after release")
	}
}

func newMiniRedisClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
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
	return mr, client
}
