package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

const blacklistColumns = `id, ip_address, reason, banned_by, banned_at, expires_at, is_active`

type BlacklistRepo struct {
	pool *pgxpool.Pool
}

func NewBlacklistRepo(pool *pgxpool.Pool) *BlacklistRepo {
	return &BlacklistRepo{pool: pool}
}

// IsActive reports whether an active, unexpired entry exists. Expiry is evaluated here
// at read time; expired rows are never swept.
func (r *BlacklistRepo) IsActive(ctx context.Context, ip string, now time.Time) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(ip) == "" {
		return false, fmt.Errorf("ip address is required")
	}

	var active bool
	if err := r.pool.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1
	FROM ip_blacklist
	WHERE ip_address = $1
	  AND is_active
	  AND (expires_at IS NULL OR expires_at > $2)
)
`, ip, now.UTC()).Scan(&active); err != nil {
		return false, fmt.Errorf("check ip blacklist: %w", err)
	}
	return active, nil
}

func (r *BlacklistRepo) Get(ctx context.Context, ip string) (model.IPBlacklistEntry, error) {
	if r.pool == nil {
		return model.IPBlacklistEntry{}, fmt.Errorf("postgres pool is nil")
	}

	return r.queryOne(ctx, `
SELECT `+blacklistColumns+`
FROM ip_blacklist
WHERE ip_address = $1
LIMIT 1
`, ip)
}

// Upsert creates the entry or re-activates an existing one with the new reason and expiry.
func (r *BlacklistRepo) Upsert(ctx context.Context, entry model.IPBlacklistEntry) (model.IPBlacklistEntry, error) {
	if r.pool == nil {
		return model.IPBlacklistEntry{}, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(entry.IPAddress) == "" {
		return model.IPBlacklistEntry{}, fmt.Errorf("ip address is required")
	}

	bannedAt := entry.BannedAt.UTC()
	if entry.BannedAt.IsZero() {
		bannedAt = time.Now().UTC()
	}

	return r.queryOne(ctx, `
INSERT INTO ip_blacklist (ip_address, reason, banned_by, banned_at, expires_at, is_active)
VALUES ($1, $2, $3, $4, $5, TRUE)
ON CONFLICT (ip_address)
DO UPDATE SET
	reason = EXCLUDED.reason,
	banned_by = EXCLUDED.banned_by,
	banned_at = EXCLUDED.banned_at,
	expires_at = EXCLUDED.expires_at,
	is_active = TRUE
RETURNING `+blacklistColumns+`
`, entry.IPAddress, strings.TrimSpace(entry.Reason), entry.BannedBy, bannedAt, entry.ExpiresAt)
}

func (r *BlacklistRepo) Deactivate(ctx context.Context, ip string) (model.IPBlacklistEntry, error) {
	if r.pool == nil {
		return model.IPBlacklistEntry{}, fmt.Errorf("postgres pool is nil")
	}

	return r.queryOne(ctx, `
UPDATE ip_blacklist
SET is_active = FALSE
WHERE ip_address = $1
RETURNING `+blacklistColumns+`
`, ip)
}

func (r *BlacklistRepo) List(ctx context.Context, activeOnly bool, now time.Time, limit int) ([]model.IPBlacklistEntry, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+blacklistColumns+`
FROM ip_blacklist
WHERE NOT $1::boolean
   OR (is_active AND (expires_at IS NULL OR expires_at > $2))
ORDER BY banned_at DESC, id DESC
LIMIT $3
`, activeOnly, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list ip blacklist: %w", err)
	}
	defer rows.Close()

	entries := make([]model.IPBlacklistEntry, 0, limit)
	for rows.Next() {
		entry, err := scanBlacklistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ip blacklist row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ip blacklist rows: %w", err)
	}

	return entries, nil
}

func (r *BlacklistRepo) queryOne(ctx context.Context, query string, args ...any) (model.IPBlacklistEntry, error) {
	entry, err := scanBlacklistEntry(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.IPBlacklistEntry{}, ErrBlacklistEntryNotFound
		}
		return model.IPBlacklistEntry{}, fmt.Errorf("query ip blacklist entry: %w", err)
	}
	return entry, nil
}

func scanBlacklistEntry(row pgx.Row) (model.IPBlacklistEntry, error) {
	var entry model.IPBlacklistEntry
	err := row.Scan(
		&entry.ID,
		&entry.IPAddress,
		&entry.Reason,
		&entry.BannedBy,
		&entry.BannedAt,
		&entry.ExpiresAt,
		&entry.IsActive,
	)
	return entry, err
}
