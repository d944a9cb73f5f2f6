package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ivankudzin/voxclip-safety/internal/domain/errs"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
	"github.com/ivankudzin/voxclip-safety/internal/domain/rules"
)

const (
	activityBucket    = rules.CounterBucket
	activityBucketTTL = rules.MaxCounterWindow + time.Hour
)

const lastSeenScript = `
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if tonumber(ARGV[1]) > current then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
end
return 1
`

// ActivityCounterRepo keeps per-minute running aggregates of activity per IP and action.
type ActivityCounterRepo struct {
	client *goredis.Client
	now    func() time.Time
}

func NewActivityCounterRepo(client *goredis.Client, now func() time.Time) *ActivityCounterRepo {
	if now == nil {
		now = time.Now
	}
	return &ActivityCounterRepo{client: client, now: now}
}

func (r *ActivityCounterRepo) Observe(ctx context.Context, record model.ActivityRecord) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	subject := strings.TrimSpace(record.Subject)
	action := strings.TrimSpace(record.ActionType)
	if subject == "" || action == "" {
		return fmt.Errorf("invalid activity counter payload")
	}

	at := record.CreatedAt
	if at.IsZero() {
		at = r.now()
	}
	bucket := at.UTC().Truncate(activityBucket)

	pipe := r.client.TxPipeline()
	countKey := activityCountKey(subject, action, bucket)
	pipe.Incr(ctx, countKey)
	pipe.Expire(ctx, countKey, activityBucketTTL)
	if record.ProfileID != nil {
		profilesKey := activityProfilesKey(subject, action, bucket)
		pipe.PFAdd(ctx, profilesKey, record.ProfileID.String())
		pipe.Expire(ctx, profilesKey, activityBucketTTL)
	}
	pipe.Eval(ctx, lastSeenScript, []string{activityLastSeenKey(subject)}, at.UTC().UnixMilli(), activityBucketTTL.Milliseconds())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("observe activity counters: %w", err)
	}
	return nil
}

// AggregateIP sums the minute buckets from the one holding since until now. Counts are
// kept per whole minute, so the oldest bucket may include activity from up to a minute
// before since. Windows longer than the bucket retention are rejected.
func (r *ActivityCounterRepo) AggregateIP(ctx context.Context, ip, actionType, accountAction string, since time.Time) (model.ActivityAggregate, error) {
	if r.client == nil {
		return model.ActivityAggregate{}, fmt.Errorf("redis client is nil")
	}
	ip = strings.TrimSpace(ip)
	actionType = strings.TrimSpace(actionType)
	if ip == "" || actionType == "" {
		return model.ActivityAggregate{}, fmt.Errorf("invalid activity aggregate payload")
	}
	now := r.now()
	if now.Sub(since) > rules.MaxCounterWindow {
		return model.ActivityAggregate{}, fmt.Errorf("%w: activity counters cover at most %s", errs.ErrValidation, rules.MaxCounterWindow)
	}

	buckets := bucketsBetween(since, now)
	countKeys := make([]string, 0, len(buckets))
	profileKeys := make([]string, 0, len(buckets))
	accountKeys := make([]string, 0, len(buckets))
	for _, bucket := range buckets {
		countKeys = append(countKeys, activityCountKey(ip, actionType, bucket))
		profileKeys = append(profileKeys, activityProfilesKey(ip, actionType, bucket))
		if accountAction != "" {
			accountKeys = append(accountKeys, activityProfilesKey(ip, accountAction, bucket))
		}
	}

	pipe := r.client.Pipeline()
	countsCmd := pipe.MGet(ctx, countKeys...)
	profilesCmd := pipe.PFCount(ctx, profileKeys...)
	var accountsCmd *goredis.IntCmd
	if len(accountKeys) > 0 {
		accountsCmd = pipe.PFCount(ctx, accountKeys...)
	}
	lastCmd := pipe.Get(ctx, activityLastSeenKey(ip))
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return model.ActivityAggregate{}, fmt.Errorf("read activity counters: %w", err)
	}

	var agg model.ActivityAggregate
	for _, raw := range countsCmd.Val() {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return model.ActivityAggregate{}, fmt.Errorf("parse activity counter: %w", err)
		}
		agg.ActionCount += n
	}
	agg.DistinctProfiles = profilesCmd.Val()
	if accountsCmd != nil {
		agg.AccountsCreated = accountsCmd.Val()
	}
	if ms, err := lastCmd.Int64(); err == nil {
		lastSeen := time.UnixMilli(ms).UTC()
		if !lastSeen.Before(since) {
			agg.LastSeenAt = &lastSeen
		}
	}

	return agg, nil
}

func bucketsBetween(since, until time.Time) []time.Time {
	start := since.UTC().Truncate(activityBucket)
	end := until.UTC().Truncate(activityBucket)
	if end.Before(start) {
		return []time.Time{start}
	}

	n := int(end.Sub(start)/activityBucket) + 1

	buckets := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		buckets = append(buckets, start.Add(time.Duration(i)*activityBucket))
	}
	return buckets
}

func activityCountKey(ip, actionType string, bucket time.Time) string {
	return fmt.Sprintf("act:cnt:%s:%s:%d", actionType, ip, bucket.Unix())
}

func activityProfilesKey(ip, actionType string, bucket time.Time) string {
	return fmt.Sprintf("act:hll:%s:%s:%d", actionType, ip, bucket.Unix())
}

func activityLastSeenKey(ip string) string {
	return "act:last:" + ip
}
