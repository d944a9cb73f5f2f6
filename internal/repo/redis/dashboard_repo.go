package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	CounterRateLimited1hKey = "cnt:safety:rate_limited:1h"
	CounterBlocked1hKey     = "cnt:safety:blocked:1h"
	CounterFarming1hKey     = "cnt:safety:farming:1h"
	CounterFailOpen1hKey    = "cnt:safety:fail_open:1h"

	OffendersIP24hKey = "zset:safety:offenders:ip:24h"
)

// Rejection kinds recorded by the dashboard.
const (
	OutcomeRateLimited = "rate_limited"
	OutcomeBlocked     = "blocked"
	OutcomeFarming     = "farming"
	OutcomeFailOpen    = "fail_open"
)

// The expiry is set only when a key has none, so each counter covers a fixed period
// from its first observation instead of sliding forward under steady traffic.
var observeOutcomeScript = goredis.NewScript(`
redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if ARGV[2] ~= "" then
	redis.call("ZINCRBY", KEYS[2], 1, ARGV[2])
	if redis.call("PTTL", KEYS[2]) < 0 then
		redis.call("PEXPIRE", KEYS[2], ARGV[3])
	end
end
return 1
`)

type DashboardRepo struct {
	client *goredis.Client
}

type SafetySummary struct {
	RateLimited1h int64 `json:"rate_limited_1h"`
	Blocked1h     int64 `json:"blocked_1h"`
	Farming1h     int64 `json:"farming_1h"`
	FailOpen1h    int64 `json:"fail_open_1h"`
}

type OffenderItem struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

func NewDashboardRepo(client *goredis.Client) *DashboardRepo {
	return &DashboardRepo{client: client}
}

// Observe counts one safety outcome and charges the offending IP, if any.
func (r *DashboardRepo) Observe(ctx context.Context, outcome, ip string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	key, ok := counterKeyByOutcome(outcome)
	if !ok {
		return nil
	}

	offender := strings.TrimSpace(ip)
	if outcome == OutcomeFailOpen {
		offender = ""
	}
	err := observeOutcomeScript.Run(ctx, r.client,
		[]string{key, OffendersIP24hKey},
		time.Hour.Milliseconds(), offender, (24 * time.Hour).Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("observe safety outcome %s: %w", outcome, err)
	}
	return nil
}

func (r *DashboardRepo) Summary(ctx context.Context) (SafetySummary, error) {
	if r.client == nil {
		return SafetySummary{}, fmt.Errorf("redis client is nil")
	}

	values, err := r.client.MGet(ctx,
		CounterRateLimited1hKey,
		CounterBlocked1hKey,
		CounterFarming1hKey,
		CounterFailOpen1hKey,
	).Result()
	if err != nil {
		return SafetySummary{}, fmt.Errorf("read safety counters: %w", err)
	}

	parsed := make([]int64, len(values))
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if _, err := fmt.Sscan(s, &parsed[i]); err != nil {
			return SafetySummary{}, fmt.Errorf("parse safety counter: %w", err)
		}
	}

	return SafetySummary{
		RateLimited1h: parsed[0],
		Blocked1h:     parsed[1],
		Farming1h:     parsed[2],
		FailOpen1h:    parsed[3],
	}, nil
}

func (r *DashboardRepo) Top(ctx context.Context, limit int64) ([]OffenderItem, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	pairs, err := r.client.ZRevRangeWithScores(ctx, OffendersIP24hKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read top offenders: %w", err)
	}

	items := make([]OffenderItem, 0, len(pairs))
	for _, pair := range pairs {
		member, ok := pair.Member.(string)
		if !ok {
			member = fmt.Sprint(pair.Member)
		}
		items = append(items, OffenderItem{
			ID:    member,
			Score: pair.Score,
		})
	}
	return items, nil
}

func counterKeyByOutcome(outcome string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(outcome)) {
	case OutcomeRateLimited:
		return CounterRateLimited1hKey, true
	case OutcomeBlocked:
		return CounterBlocked1hKey, true
	case OutcomeFarming:
		return CounterFarming1hKey, true
	case OutcomeFailOpen:
		return CounterFailOpen1hKey, true
	default:
		return "", false
	}
}
