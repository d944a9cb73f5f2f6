package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

const insertActivityQuery = `
INSERT INTO activity_records (
	subject,
	action_type,
	profile_id,
	target_resource_id,
	device_id,
	user_agent,
	metadata,
	created_at
) VALUES (
	$1,
	$2,
	$3,
	$4,
	$5,
	$6,
	$7::jsonb,
	$8
)
`

type ActivityRepo struct {
	pool *pgxpool.Pool
}

func NewActivityRepo(pool *pgxpool.Pool) *ActivityRepo {
	return &ActivityRepo{pool: pool}
}

func (r *ActivityRepo) Insert(ctx context.Context, record model.ActivityRecord) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	args, err := activityArgs(record)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, insertActivityQuery, args...); err != nil {
		return fmt.Errorf("insert activity record: %w", err)
	}
	return nil
}

func (r *ActivityRepo) InsertBatch(ctx context.Context, records []model.ActivityRecord) error {
	if len(records) == 0 {
		return nil
	}
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	batch := &pgx.Batch{}
	for _, record := range records {
		args, err := activityArgs(record)
		if err != nil {
			return err
		}
		batch.Queue(insertActivityQuery, args...)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < len(records); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert activity batch item #%d: %w", i, err)
		}
	}

	return nil
}

// AggregateIP counts activity for one IP since the given instant. accountAction names
// the action type that represents account creation.
func (r *ActivityRepo) AggregateIP(ctx context.Context, ip, actionType, accountAction string, since time.Time) (model.ActivityAggregate, error) {
	if r.pool == nil {
		return model.ActivityAggregate{}, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(ip) == "" || strings.TrimSpace(actionType) == "" {
		return model.ActivityAggregate{}, fmt.Errorf("invalid activity aggregate payload")
	}

	var agg model.ActivityAggregate
	err := r.pool.QueryRow(ctx, `
SELECT
	COUNT(*) FILTER (WHERE action_type = $2),
	COUNT(DISTINCT profile_id) FILTER (WHERE action_type = $2),
	COUNT(DISTINCT profile_id) FILTER (WHERE action_type = $3),
	MAX(created_at)
FROM activity_records
WHERE subject = $1
  AND created_at >= $4
`, ip, actionType, accountAction, since.UTC()).Scan(
		&agg.ActionCount,
		&agg.DistinctProfiles,
		&agg.AccountsCreated,
		&agg.LastSeenAt,
	)
	if err != nil {
		return model.ActivityAggregate{}, fmt.Errorf("aggregate ip activity: %w", err)
	}

	return agg, nil
}

func (r *ActivityRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	tag, err := r.pool.Exec(ctx, `
DELETE FROM activity_records
WHERE created_at < $1
`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete stale activity records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func activityArgs(record model.ActivityRecord) ([]any, error) {
	if strings.TrimSpace(record.Subject) == "" || strings.TrimSpace(record.ActionType) == "" {
		return nil, fmt.Errorf("invalid activity record payload")
	}

	metadata := record.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal activity metadata: %w", err)
	}

	createdAt := record.CreatedAt.UTC()
	if record.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return []any{
		record.Subject,
		record.ActionType,
		record.ProfileID,
		record.TargetResourceID,
		record.DeviceID,
		record.UserAgent,
		string(payload),
		createdAt,
	}, nil
}
