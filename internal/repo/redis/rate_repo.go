package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

// The increment only happens below the limit, so the stored count never exceeds max.
var windowIncrementScript = goredis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current >= limit then
	return {current, 0}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {current, 1}
`)

type RateRepo struct {
	client *goredis.Client
}

func NewRateRepo(client *goredis.Client) *RateRepo {
	return &RateRepo{client: client}
}

// Increment admits one request against the counter's window and reports the resulting count.
func (r *RateRepo) Increment(ctx context.Context, counter model.RateLimitCounter) (int, bool, error) {
	if r.client == nil {
		return 0, false, fmt.Errorf("redis client is nil")
	}
	if strings.TrimSpace(counter.Subject) == "" || strings.TrimSpace(counter.ActionType) == "" ||
		counter.MaxRequests <= 0 || counter.WindowMinutes <= 0 {
		return 0, false, fmt.Errorf("invalid rate window payload")
	}

	// Keys outlive their window so a late reader of the previous window still sees it.
	ttl := 2 * time.Duration(counter.WindowMinutes) * time.Minute
	res, err := windowIncrementScript.Run(ctx, r.client,
		[]string{RateWindowKey(counter.Subject, counter.ActionType, counter.WindowMinutes, counter.WindowStart)},
		counter.MaxRequests, ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("increment rate window: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("unexpected rate window reply")
	}

	return int(res[0]), res[1] == 1, nil
}

func (r *RateRepo) WindowCount(ctx context.Context, subject, actionType string, windowMinutes int, windowStart time.Time) (int, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	count, err := r.client.Get(ctx, RateWindowKey(subject, actionType, windowMinutes, windowStart)).Int()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get rate window count: %w", err)
	}
	return count, nil
}

// RateWindowKey identifies one window of one limit. Windows of different lengths start
// at the same instant on aligned boundaries, so the length is part of the key.
func RateWindowKey(subject, actionType string, windowMinutes int, windowStart time.Time) string {
	return fmt.Sprintf("rate:%s:%s:%dm:%d", actionType, subject, windowMinutes, windowStart.UTC().Unix())
}
