package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

type AuditFilter struct {
	AdminID *uuid.UUID
	Action  string
	From    *time.Time
	To      *time.Time
	Limit   int
	// Ascending orders oldest first; listings default to newest first.
	Ascending bool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Insert(ctx context.Context, entry model.AuditEntry) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(entry.Action) == "" || strings.TrimSpace(entry.TargetType) == "" {
		return fmt.Errorf("invalid audit entry payload")
	}

	before, err := marshalNullableJSON(entry.Before)
	if err != nil {
		return fmt.Errorf("marshal audit before state: %w", err)
	}
	after, err := marshalNullableJSON(entry.After)
	if err != nil {
		return fmt.Errorf("marshal audit after state: %w", err)
	}

	createdAt := entry.CreatedAt.UTC()
	if entry.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := r.pool.Exec(ctx, `
INSERT INTO admin_audit_log (
	admin_id,
	action,
	target_type,
	target_id,
	before_state,
	after_state,
	device_id,
	ip_address,
	created_at
) VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8, $9)
`, entry.AdminID, entry.Action, entry.TargetType, entry.TargetID, before, after, entry.DeviceID, entry.IPAddress, createdAt); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepo) List(ctx context.Context, filter AuditFilter) ([]model.AuditEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	conditions := make([]string, 0, 4)
	args := make([]any, 0, 5)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.AdminID != nil {
		conditions = append(conditions, "admin_id = "+arg(*filter.AdminID))
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		conditions = append(conditions, "action = "+arg(action))
	}
	if filter.From != nil {
		conditions = append(conditions, "created_at >= "+arg(filter.From.UTC()))
	}
	if filter.To != nil {
		conditions = append(conditions, "created_at < "+arg(filter.To.UTC()))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	order := "created_at DESC, id DESC"
	if filter.Ascending {
		order = "created_at ASC, id ASC"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, admin_id, action, target_type, target_id, before_state, after_state, device_id, ip_address, created_at
FROM admin_audit_log
`+where+`
ORDER BY `+order+`
LIMIT `+arg(limit), args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]model.AuditEntry, 0, limit)
	for rows.Next() {
		var (
			entry  model.AuditEntry
			before []byte
			after  []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.AdminID,
			&entry.Action,
			&entry.TargetType,
			&entry.TargetID,
			&before,
			&after,
			&entry.DeviceID,
			&entry.IPAddress,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(before) > 0 {
			if err := json.Unmarshal(before, &entry.Before); err != nil {
				return nil, fmt.Errorf("decode audit before state: %w", err)
			}
		}
		if len(after) > 0 {
			if err := json.Unmarshal(after, &entry.After); err != nil {
				return nil, fmt.Errorf("decode audit after state: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, nil
}

func marshalNullableJSON(value map[string]any) (*string, error) {
	if value == nil {
		return nil, nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	s := string(payload)
	return &s, nil
}
