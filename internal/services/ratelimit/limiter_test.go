package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ivankudzin/voxclip-safety/internal/domain/errs"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
	redrepo "github.com/ivankudzin/voxclip-safety/internal/repo/redis"
)

func TestLimiterVoiceCommentScenario(t *testing.T) {
	client := newMiniRedisClient(t)
	limiter := NewLimiter(redrepo.NewRateRepo(client), Config{FailOpen: true}, nil)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		now = start.Add(time.Duration(i) * time.Second)
		decision, err := limiter.Enforce(ctx, "203.0.113.5", "voice_comment", 3, 1)
		if err != nil {
			t.Fatalf("request #%d: %v", i, err)
		}
		if !decision.Allowed || decision.Remaining != 3-i {
			t.Fatalf("unexpected decision #%d: %+v", i, decision)
		}
	}

	now = start.Add(4 * time.Second)
	_, err := limiter.Enforce(ctx, "203.0.113.5", "voice_comment", 3, 1)
	rl, ok := errs.IsRateLimited(err)
	if !ok {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if retry := rl.RetryAfterSec(); retry < 55 || retry > 60 {
		t.Fatalf("expected retry_after about 60s, got %d", retry)
	}
	if !rl.ResetAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("unexpected reset_at: %s", rl.ResetAt)
	}

	now = start.Add(61 * time.Second)
	decision, err := limiter.Enforce(ctx, "203.0.113.5", "voice_comment", 3, 1)
	if err != nil {
		t.Fatalf("request after window: %v", err)
	}
	if !decision.Allowed || decision.Remaining != 2 {
		t.Fatalf("unexpected decision after window: %+v", decision)
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	client := newMiniRedisClient(t)
	limiter := NewLimiter(redrepo.NewRateRepo(client), Config{}, nil)
	ctx := context.Background()

	if _, err := limiter.Enforce(ctx, "203.0.113.5", "reaction", 1, 1); err != nil {
		t.Fatalf("first reaction: %v", err)
	}
	if _, err := limiter.Enforce(ctx, "203.0.113.5", "comment", 1, 1); err != nil {
		t.Fatalf("other action must not share the counter: %v", err)
	}
	if _, err := limiter.Enforce(ctx, "203.0.113.6", "reaction", 1, 1); err != nil {
		t.Fatalf("other subject must not share the counter: %v", err)
	}
	if _, err := limiter.Enforce(ctx, "203.0.113.5", "reaction", 1, 1); err == nil {
		t.Fatalf("expected second reaction to be limited")
	}
}

func TestLimiterNoOvershootUnderConcurrency(t *testing.T) {
	client := newMiniRedisClient(t)
	limiter := NewLimiter(redrepo.NewRateRepo(client), Config{}, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	limiter.now = func() time.Time { return fixed }

	const (
		limit   = 10
		callers = 64
	)

	var (
		admitted atomic.Int64
		wg       sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, err := limiter.Check(context.Background(), "profile-1", "endorsement", limit, 1)
			if err != nil {
				t.Errorf("check: %v", err)
				return
			}
			if decision.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != limit {
		t.Fatalf("expected %d admitted, got %d", limit, got)
	}
}

func TestLimiterFailsOpenWhenStoreDown(t *testing.T) {
	limiter := NewLimiter(failingStore{}, Config{FailOpen: true, StoreTimeout: 10 * time.Millisecond}, nil)

	decision, err := limiter.Enforce(context.Background(), "203.0.113.5", "comment", 5, 1)
	if err != nil {
		t.Fatalf("expected fail-open, got %v", err)
	}
	if !decision.Allowed || !decision.Degraded || decision.Remaining != 5 {
		t.Fatalf("unexpected degraded decision: %+v", decision)
	}
}

func TestLimiterFailsClosedWhenConfigured(t *testing.T) {
	limiter := NewLimiter(failingStore{}, Config{FailOpen: false}, nil)

	_, err := limiter.Check(context.Background(), "203.0.113.5", "comment", 5, 1)
	if !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

func TestLimiterAppliesStoreTimeout(t *testing.T) {
	store := &slowStore{}
	limiter := NewLimiter(store, Config{FailOpen: true, StoreTimeout: 20 * time.Millisecond}, nil)

	decision, err := limiter.Check(context.Background(), "203.0.113.5", "comment", 5, 1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !decision.Degraded {
		t.Fatalf("expected degraded decision after timeout")
	}
	if !store.sawDeadline {
		t.Fatalf("expected store call to carry a deadline")
	}
}

func TestLimiterRejectsInvalidInput(t *testing.T) {
	limiter := NewLimiter(failingStore{}, Config{FailOpen: true}, nil)

	cases := []struct {
		subject string
		action  string
		max     int
		window  int
	}{
		{"", "comment", 1, 1},
		{"203.0.113.5", " ", 1, 1},
		{"203.0.113.5", "comment", 0, 1},
		{"203.0.113.5", "comment", 1, 0},
	}
	for _, tc := range cases {
		if _, err := limiter.Check(context.Background(), tc.subject, tc.action, tc.max, tc.window); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", tc, err)
		}
	}
}

type failingStore struct{}

func (failingStore) Increment(context.Context, model.RateLimitCounter) (int, bool, error) {
	return 0, false, errors.New("connection refused")
}

type slowStore struct {
	sawDeadline bool
}

func (s *slowStore) Increment(ctx context.Context, _ model.RateLimitCounter) (int, bool, error) {
	_, s.sawDeadline = ctx.Deadline()
	<-ctx.Done()
	return 0, false, ctx.Err()
}

func newMiniRedisClient(t *testing.T) *goredis.Client {
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
	return client
}
