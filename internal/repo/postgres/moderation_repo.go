package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/voxclip-safety/internal/domain/enums"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

const moderationColumns = `id, kind, subject_resource_id, reporter_id, reasons, content, risk_score, source,
	workflow_state, assigned_to, priority, escalation_level, notes, reviewed_at, reviewed_by, created_at, updated_at`

const (
	SortPriority = "priority"
	SortNewest   = "newest"
	SortOldest   = "oldest"
)

type ModerationRepo struct {
	pool *pgxpool.Pool
}

// ModerationFilter narrows a queue listing. RiskMax is exclusive.
type ModerationFilter struct {
	Kind       *enums.ItemKind
	States     []enums.WorkflowState
	Source     *enums.ItemSource
	RiskMin    *int64
	RiskMax    *int64
	Unassigned bool
	AssignedTo *uuid.UUID
	Search     string
	Sort       string
	Limit      int
	Offset     int
}

func NewModerationRepo(pool *pgxpool.Pool) *ModerationRepo {
	return &ModerationRepo{pool: pool}
}

func (r *ModerationRepo) Create(ctx context.Context, item model.ModerationItem) (model.ModerationItem, error) {
	if r.pool == nil {
		return model.ModerationItem{}, fmt.Errorf("postgres pool is nil")
	}
	if item.ID == uuid.Nil || !item.Kind.Valid() || strings.TrimSpace(item.SubjectResourceID) == "" {
		return model.ModerationItem{}, fmt.Errorf("invalid moderation item payload")
	}

	reasons := item.Reasons
	if reasons == nil {
		reasons = []string{}
	}

	return r.queryOne(ctx, `
INSERT INTO moderation_items (
	id,
	kind,
	subject_resource_id,
	reporter_id,
	reasons,
	content,
	risk_score,
	source,
	workflow_state,
	priority,
	escalation_level,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, 0, $10, $10)
RETURNING `+moderationColumns,
		item.ID,
		string(item.Kind),
		item.SubjectResourceID,
		item.ReporterID,
		reasons,
		item.Content,
		item.RiskScore,
		string(item.Source),
		item.Priority,
		item.CreatedAt.UTC(),
	)
}

func (r *ModerationRepo) Get(ctx context.Context, kind enums.ItemKind, id uuid.UUID) (model.ModerationItem, error) {
	if r.pool == nil {
		return model.ModerationItem{}, fmt.Errorf("postgres pool is nil")
	}

	return r.queryOne(ctx, `
SELECT `+moderationColumns+`
FROM moderation_items
WHERE kind = $1 AND id = $2
LIMIT 1
`, string(kind), id)
}

// List returns one page of items and the total number of matches.
func (r *ModerationRepo) List(ctx context.Context, filter ModerationFilter) ([]model.ModerationItem, int, error) {
	if r.pool == nil {
		return nil, 0, fmt.Errorf("postgres pool is nil")
	}

	conditions := make([]string, 0, 8)
	args := make([]any, 0, 10)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Kind != nil {
		conditions = append(conditions, "kind = "+arg(string(*filter.Kind)))
	}
	if len(filter.States) > 0 {
		states := make([]string, 0, len(filter.States))
		for _, state := range filter.States {
			states = append(states, string(state))
		}
		conditions = append(conditions, "workflow_state = ANY("+arg(states)+")")
	}
	if filter.Source != nil {
		conditions = append(conditions, "source = "+arg(string(*filter.Source)))
	}
	if filter.RiskMin != nil {
		conditions = append(conditions, "risk_score >= "+arg(*filter.RiskMin))
	}
	if filter.RiskMax != nil {
		conditions = append(conditions, "risk_score < "+arg(*filter.RiskMax))
	}
	if filter.Unassigned {
		conditions = append(conditions, "assigned_to IS NULL")
	} else if filter.AssignedTo != nil {
		conditions = append(conditions, "assigned_to = "+arg(*filter.AssignedTo))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := arg("%" + escapeLike(search) + "%")
		conditions = append(conditions, "(subject_resource_id ILIKE "+pattern+
			" OR content ILIKE "+pattern+
			" OR COALESCE(notes, '') ILIKE "+pattern+
			" OR array_to_string(reasons, ' ') ILIKE "+pattern+")")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
SELECT ` + moderationColumns + `, COUNT(*) OVER ()
FROM moderation_items
` + where + `
ORDER BY ` + moderationOrderBy(filter.Sort) + `
LIMIT ` + arg(limit) + ` OFFSET ` + arg(offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list moderation items: %w", err)
	}
	defer rows.Close()

	items := make([]model.ModerationItem, 0, limit)
	total := 0
	for rows.Next() {
		item, err := scanModerationItem(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan moderation item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate moderation items: %w", err)
	}

	return items, total, nil
}

// UpdateAssignment moves the item between pending and in_review while setting the
// assignee. The update only applies while the item is still in the expected state.
func (r *ModerationRepo) UpdateAssignment(
	ctx context.Context,
	kind enums.ItemKind,
	id uuid.UUID,
	from, to enums.WorkflowState,
	assignee *uuid.UUID,
	now time.Time,
) (model.ModerationItem, error) {
	if r.pool == nil {
		return model.ModerationItem{}, fmt.Errorf("postgres pool is nil")
	}

	item, err := r.queryOne(ctx, `
UPDATE moderation_items
SET
	assigned_to = $4,
	workflow_state = $5,
	updated_at = $6
WHERE kind = $1 AND id = $2 AND workflow_state = $3
RETURNING `+moderationColumns,
		string(kind), id, string(from), assignee, string(to), now.UTC())
	if errors.Is(err, ErrModerationItemNotFound) {
		return model.ModerationItem{}, r.missOrConflict(ctx, kind, id)
	}
	return item, err
}

// UpdateState applies a conditional state change. Terminal states record the reviewer.
func (r *ModerationRepo) UpdateState(
	ctx context.Context,
	kind enums.ItemKind,
	id uuid.UUID,
	from, to enums.WorkflowState,
	reviewer *uuid.UUID,
	now time.Time,
) (model.ModerationItem, error) {
	if r.pool == nil {
		return model.ModerationItem{}, fmt.Errorf("postgres pool is nil")
	}

	item, err := r.queryOne(ctx, `
UPDATE moderation_items
SET
	workflow_state = $4,
	reviewed_at = CASE WHEN $7::boolean THEN $6 ELSE reviewed_at END,
	reviewed_by = CASE WHEN $7::boolean THEN $5 ELSE reviewed_by END,
	updated_at = $6
WHERE kind = $1 AND id = $2 AND workflow_state = $3
RETURNING `+moderationColumns,
		string(kind), id, string(from), string(to), reviewer, now.UTC(), to.IsTerminal())
	if errors.Is(err, ErrModerationItemNotFound) {
		return model.ModerationItem{}, r.missOrConflict(ctx, kind, id)
	}
	return item, err
}

// UpdateNotes replaces the notes and returns the previous value.
func (r *ModerationRepo) UpdateNotes(
	ctx context.Context,
	kind enums.ItemKind,
	id uuid.UUID,
	notes *string,
	now time.Time,
) (*string, model.ModerationItem, error) {
	if r.pool == nil {
		return nil, model.ModerationItem{}, fmt.Errorf("postgres pool is nil")
	}

	var (
		previous *string
		updated  model.ModerationItem
	)
	err := WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
SELECT notes
FROM moderation_items
WHERE kind = $1 AND id = $2
FOR UPDATE
`, string(kind), id).Scan(&previous); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrModerationItemNotFound
			}
			return fmt.Errorf("lock moderation item notes: %w", err)
		}

		item, err := scanModerationItem(tx.QueryRow(ctx, `
UPDATE moderation_items
SET notes = $3, updated_at = $4
WHERE kind = $1 AND id = $2
RETURNING `+moderationColumns,
			string(kind), id, notes, now.UTC()), nil)
		if err != nil {
			return fmt.Errorf("update moderation item notes: %w", err)
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, model.ModerationItem{}, err
	}

	return previous, updated, nil
}

// ListStale returns open items whose age calls for a higher escalation level than the
// stored one, oldest first. The target level is floor(age / ageThreshold) capped at maxLevel.
func (r *ModerationRepo) ListStale(ctx context.Context, now time.Time, ageThreshold time.Duration, maxLevel, limit int) ([]model.ModerationItem, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if ageThreshold <= 0 || maxLevel <= 0 {
		return nil, fmt.Errorf("invalid escalation window")
	}
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+moderationColumns+`
FROM moderation_items
WHERE workflow_state IN ('pending', 'in_review')
  AND created_at <= $1::timestamptz - make_interval(secs => $2)
  AND escalation_level < LEAST($3, FLOOR(EXTRACT(EPOCH FROM ($1::timestamptz - created_at)) / $2)::int)
ORDER BY created_at ASC, id ASC
LIMIT $4
`, now.UTC(), ageThreshold.Seconds(), maxLevel, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale moderation items: %w", err)
	}
	defer rows.Close()

	items := make([]model.ModerationItem, 0, limit)
	for rows.Next() {
		item, err := scanModerationItem(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("scan stale moderation item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale moderation items: %w", err)
	}

	return items, nil
}

// Escalate bumps priority and risk only while the stored level equals expectedLevel.
// It reports false when another sweep already moved the item.
func (r *ModerationRepo) Escalate(
	ctx context.Context,
	kind enums.ItemKind,
	id uuid.UUID,
	expectedLevel, newLevel, priorityDelta, riskDelta int,
	now time.Time,
) (model.ModerationItem, bool, error) {
	if r.pool == nil {
		return model.ModerationItem{}, false, fmt.Errorf("postgres pool is nil")
	}

	item, err := r.queryOne(ctx, `
UPDATE moderation_items
SET
	escalation_level = $4,
	priority = priority + $5,
	risk_score = LEAST(100, risk_score + $6),
	updated_at = $7
WHERE kind = $1
  AND id = $2
  AND escalation_level = $3
  AND workflow_state IN ('pending', 'in_review')
RETURNING `+moderationColumns,
		string(kind), id, expectedLevel, newLevel, priorityDelta, riskDelta, now.UTC())
	if errors.Is(err, ErrModerationItemNotFound) {
		return model.ModerationItem{}, false, nil
	}
	if err != nil {
		return model.ModerationItem{}, false, err
	}
	return item, true, nil
}

func (r *ModerationRepo) missOrConflict(ctx context.Context, kind enums.ItemKind, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM moderation_items WHERE kind = $1 AND id = $2)
`, string(kind), id).Scan(&exists); err != nil {
		return fmt.Errorf("check moderation item existence: %w", err)
	}
	if !exists {
		return ErrModerationItemNotFound
	}
	return ErrStateConflict
}

func (r *ModerationRepo) queryOne(ctx context.Context, query string, args ...any) (model.ModerationItem, error) {
	item, err := scanModerationItem(r.pool.QueryRow(ctx, query, args...), nil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ModerationItem{}, ErrModerationItemNotFound
		}
		return model.ModerationItem{}, fmt.Errorf("query moderation item: %w", err)
	}
	return item, nil
}

func scanModerationItem(row pgx.Row, total *int) (model.ModerationItem, error) {
	var (
		item   model.ModerationItem
		kind   string
		source string
		state  string
	)
	dest := []any{
		&item.ID,
		&kind,
		&item.SubjectResourceID,
		&item.ReporterID,
		&item.Reasons,
		&item.Content,
		&item.RiskScore,
		&source,
		&state,
		&item.AssignedTo,
		&item.Priority,
		&item.EscalationLevel,
		&item.Notes,
		&item.ReviewedAt,
		&item.ReviewedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	}
	if total != nil {
		dest = append(dest, total)
	}
	if err := row.Scan(dest...); err != nil {
		return model.ModerationItem{}, err
	}

	item.Kind = enums.ItemKind(kind)
	item.Source = enums.ItemSource(source)
	item.WorkflowState = enums.WorkflowState(state)
	return item, nil
}

func moderationOrderBy(sort string) string {
	switch sort {
	case SortNewest:
		return "created_at DESC, id DESC"
	case SortOldest:
		return "created_at ASC, id ASC"
	default:
		return "priority DESC, created_at ASC, id ASC"
	}
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
