package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

type RateRepo struct {
	pool *pgxpool.Pool
}

func NewRateRepo(pool *pgxpool.Pool) *RateRepo {
	return &RateRepo{pool: pool}
}

// Increment admits one request against the counter row of the current window. Rows are
// keyed by window length as well as start, since aligned windows share start times. The
// conditional upsert takes the row lock, so concurrent callers serialise on it and
// the count can never pass max_requests.
func (r *RateRepo) Increment(ctx context.Context, counter model.RateLimitCounter) (int, bool, error) {
	if r.pool == nil {
		return 0, false, fmt.Errorf("postgres pool is nil")
	}
	if counter.Subject == "" || counter.ActionType == "" || counter.MaxRequests <= 0 || counter.WindowMinutes <= 0 {
		return 0, false, fmt.Errorf("invalid rate counter payload")
	}

	var count int
	err := r.pool.QueryRow(ctx, `
INSERT INTO rate_limit_counters (
	subject,
	action_type,
	window_start,
	request_count,
	max_requests,
	window_minutes,
	updated_at
) VALUES ($1, $2, $3, 1, $4, $5, NOW())
ON CONFLICT (subject, action_type, window_minutes, window_start)
DO UPDATE SET
	request_count = rate_limit_counters.request_count + 1,
	max_requests = EXCLUDED.max_requests,
	updated_at = NOW()
WHERE rate_limit_counters.request_count < EXCLUDED.max_requests
RETURNING request_count
`, counter.Subject, counter.ActionType, counter.WindowStart.UTC(), counter.MaxRequests, counter.WindowMinutes).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("increment rate counter: %w", err)
	}

	return counter.MaxRequests, false, nil
}

func (r *RateRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
DELETE FROM rate_limit_counters
WHERE window_start + make_interval(mins => window_minutes) < $1
`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired rate counters: %w", err)
	}
	return tag.RowsAffected(), nil
}
