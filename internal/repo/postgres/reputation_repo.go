package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

type ReputationRepo struct {
	pool *pgxpool.Pool
}

func NewReputationRepo(pool *pgxpool.Pool) *ReputationRepo {
	return &ReputationRepo{pool: pool}
}

func (r *ReputationRepo) Insert(ctx context.Context, action model.ReputationAction) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if action.TargetProfileID == uuid.Nil || strings.TrimSpace(action.ActionType) == "" {
		return fmt.Errorf("invalid reputation action payload")
	}

	createdAt := action.CreatedAt.UTC()
	if action.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := r.pool.Exec(ctx, `
INSERT INTO reputation_actions (
	target_profile_id,
	source_profile_id,
	action_type,
	resource_id,
	points,
	created_at
) VALUES ($1, $2, $3, $4, $5, $6)
`, action.TargetProfileID, action.SourceProfileID, action.ActionType, action.ResourceID, action.Points, createdAt); err != nil {
		return fmt.Errorf("insert reputation action: %w", err)
	}
	return nil
}

// RecentPairEvents returns up to limit event times for the pair, newest first, and the
// total number of events since the given instant.
func (r *ReputationRepo) RecentPairEvents(
	ctx context.Context,
	target, source uuid.UUID,
	actionType string,
	since time.Time,
	limit int,
) ([]time.Time, int, error) {
	if r.pool == nil {
		return nil, 0, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 1
	}

	rows, err := r.pool.Query(ctx, `
SELECT created_at, COUNT(*) OVER ()
FROM reputation_actions
WHERE target_profile_id = $1
  AND source_profile_id = $2
  AND action_type = $3
  AND created_at > $4
ORDER BY created_at DESC
LIMIT $5
`, target, source, actionType, since.UTC(), limit)
	if err != nil {
		return nil, 0, fmt.Errorf("query reputation pair events: %w", err)
	}
	defer rows.Close()

	var (
		times []time.Time
		total int
	)
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at, &total); err != nil {
			return nil, 0, fmt.Errorf("scan reputation pair event: %w", err)
		}
		times = append(times, at)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate reputation pair events: %w", err)
	}

	return times, total, nil
}
