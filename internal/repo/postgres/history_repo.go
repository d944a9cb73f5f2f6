package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/voxclip-safety/internal/domain/enums"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

const insertHistoryQuery = `
INSERT INTO moderation_history (
	item_kind,
	item_id,
	action,
	admin_id,
	previous_value,
	new_value,
	notes,
	details,
	created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
`

type HistoryRepo struct {
	pool *pgxpool.Pool
}

func NewHistoryRepo(pool *pgxpool.Pool) *HistoryRepo {
	return &HistoryRepo{pool: pool}
}

func (r *HistoryRepo) Append(ctx context.Context, entry model.ModerationHistoryEntry) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	args, err := historyArgs(entry)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, insertHistoryQuery, args...); err != nil {
		return fmt.Errorf("insert moderation history: %w", err)
	}
	return nil
}

// AppendBatch writes entries in one round trip. Each entry stands on its own: invalid
// entries are skipped, and when the batch fails the valid entries are retried one by one,
// so a single bad row only loses its own entry. The returned error lists every lost entry.
func (r *HistoryRepo) AppendBatch(ctx context.Context, entries []model.ModerationHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	batch, queued, failures := queueHistoryBatch(entries)
	if batch.Len() == 0 {
		return errors.Join(failures...)
	}

	if err := r.sendHistoryBatch(ctx, batch); err != nil {
		for _, i := range queued {
			if err := r.Append(ctx, entries[i]); err != nil {
				failures = append(failures, fmt.Errorf("moderation history entry #%d: %w", i, err))
			}
		}
	}
	return errors.Join(failures...)
}

func (r *HistoryRepo) sendHistoryBatch(ctx context.Context, batch *pgx.Batch) error {
	results := r.pool.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert moderation history batch: %w", err)
		}
	}
	return results.Close()
}

// queueHistoryBatch queues every valid entry and reports the indexes it queued along
// with one error per rejected entry.
func queueHistoryBatch(entries []model.ModerationHistoryEntry) (*pgx.Batch, []int, []error) {
	batch := &pgx.Batch{}
	queued := make([]int, 0, len(entries))
	var failures []error
	for i, entry := range entries {
		args, err := historyArgs(entry)
		if err != nil {
			failures = append(failures, fmt.Errorf("moderation history entry #%d: %w", i, err))
			continue
		}
		batch.Queue(insertHistoryQuery, args...)
		queued = append(queued, i)
	}
	return batch, queued, failures
}

func (r *HistoryRepo) ListByItem(ctx context.Context, kind enums.ItemKind, itemID uuid.UUID) ([]model.ModerationHistoryEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, item_kind, item_id, action, admin_id, previous_value, new_value, notes, details, created_at
FROM moderation_history
WHERE item_kind = $1 AND item_id = $2
ORDER BY created_at ASC, id ASC
`, string(kind), itemID)
	if err != nil {
		return nil, fmt.Errorf("list moderation history: %w", err)
	}
	defer rows.Close()

	entries := make([]model.ModerationHistoryEntry, 0, 8)
	for rows.Next() {
		var (
			entry   model.ModerationHistoryEntry
			kindRaw string
			action  string
			details []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&kindRaw,
			&entry.ItemID,
			&action,
			&entry.AdminID,
			&entry.PreviousValue,
			&entry.NewValue,
			&entry.Notes,
			&details,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan moderation history row: %w", err)
		}
		entry.ItemKind = enums.ItemKind(kindRaw)
		entry.Action = enums.HistoryAction(action)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("decode moderation history details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate moderation history rows: %w", err)
	}

	return entries, nil
}

func historyArgs(entry model.ModerationHistoryEntry) ([]any, error) {
	if !entry.ItemKind.Valid() || entry.ItemID == uuid.Nil || entry.Action == "" {
		return nil, fmt.Errorf("invalid moderation history payload")
	}

	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal moderation history details: %w", err)
	}

	createdAt := entry.CreatedAt.UTC()
	if entry.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return []any{
		string(entry.ItemKind),
		entry.ItemID,
		string(entry.Action),
		entry.AdminID,
		entry.PreviousValue,
		entry.NewValue,
		entry.Notes,
		string(payload),
		createdAt,
	}, nil
}
