package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
	pgrepo "github.com/ivankudzin/voxclip-safety/internal/repo/postgres"
)

const (
	contentTypeJSONLines = "application/x-ndjson"
	maxEntriesPerDay     = 100000
)

type AuditSource interface {
	List(ctx context.Context, filter pgrepo.AuditFilter) ([]model.AuditEntry, error)
}

type ObjectWriter interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Job copies one UTC day of the admin audit log to object storage as JSON lines.
// Re-running a day overwrites the same object.
type Job struct {
	source AuditSource
	writer ObjectWriter
	now    func() time.Time
	logger *zap.Logger
}

func New(source AuditSource, writer ObjectWriter, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		source: source,
		writer: writer,
		now:    time.Now,
		logger: logger,
	}
}

// Run archives the previous UTC day.
func (j *Job) Run(ctx context.Context) error {
	day := j.now().UTC().AddDate(0, 0, -1)
	_, err := j.ArchiveDay(ctx, day)
	return err
}

func (j *Job) ArchiveDay(ctx context.Context, day time.Time) (int, error) {
	if j.source == nil || j.writer == nil {
		return 0, nil
	}

	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	entries, err := j.source.List(ctx, pgrepo.AuditFilter{
		From:      &from,
		To:        &to,
		Limit:     maxEntriesPerDay,
		Ascending: true,
	})
	if err != nil {
		return 0, fmt.Errorf("list audit entries for archive: %w", err)
	}
	if len(entries) >= maxEntriesPerDay {
		j.logger.Warn("audit archive truncated", zap.Time("day", from), zap.Int("limit", maxEntriesPerDay))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return 0, fmt.Errorf("encode audit entry %d: %w", entry.ID, err)
		}
	}

	key := ObjectKey(from)
	if err := j.writer.Put(ctx, key, buf.Bytes(), contentTypeJSONLines); err != nil {
		return 0, fmt.Errorf("write audit archive: %w", err)
	}

	j.logger.Info("audit archive written", zap.String("key", key), zap.Int("entries", len(entries)))
	return len(entries), nil
}

func ObjectKey(day time.Time) string {
	return day.UTC().Format("audit/2006/01/02.jsonl")
}
