package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/voxclip-safety/internal/domain/enums"
	"github.com/ivankudzin/voxclip-safety/internal/domain/errs"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
	pgrepo "github.com/ivankudzin/voxclip-safety/internal/repo/postgres"
)

const (
	defaultWriteTimeout = 2 * time.Second
	defaultListLimit    = 100
	maxListLimit        = 1000
)

type HistoryStore interface {
	Append(ctx context.Context, entry model.ModerationHistoryEntry) error
	AppendBatch(ctx context.Context, entries []model.ModerationHistoryEntry) error
	ListByItem(ctx context.Context, kind enums.ItemKind, itemID uuid.UUID) ([]model.ModerationHistoryEntry, error)
}

type AuditStore interface {
	Insert(ctx context.Context, entry model.AuditEntry) error
	List(ctx context.Context, filter pgrepo.AuditFilter) ([]model.AuditEntry, error)
}

// Recorder writes the moderation history and the admin audit trail.
// Writes never fail the caller: errors are logged and dropped.
type Recorder struct {
	history      HistoryStore
	audit        AuditStore
	logger       *zap.Logger
	writeTimeout time.Duration
	now          func() time.Time
}

func NewRecorder(history HistoryStore, audit AuditStore, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		history:      history,
		audit:        audit,
		logger:       logger,
		writeTimeout: defaultWriteTimeout,
		now:          time.Now,
	}
}

// AppendHistory stores one history row per entry.
func (r *Recorder) AppendHistory(ctx context.Context, entries ...model.ModerationHistoryEntry) {
	if len(entries) == 0 {
		return
	}
	if r.history == nil {
		r.dropped("history", fmt.Errorf("history store is nil"), zap.Int("entries", len(entries)))
		return
	}

	now := r.now().UTC()
	for i := range entries {
		if entries[i].CreatedAt.IsZero() {
			entries[i].CreatedAt = now
		}
	}

	writeCtx, cancel := r.writeContext(ctx)
	defer cancel()

	var err error
	if len(entries) == 1 {
		err = r.history.Append(writeCtx, entries[0])
	} else {
		err = r.history.AppendBatch(writeCtx, entries)
	}
	if err == nil {
		return
	}
	// A batch reports each lost entry separately; the others are stored.
	causes := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		causes = joined.Unwrap()
	}
	for _, cause := range causes {
		r.dropped("history", cause,
			zap.String("item_kind", string(entries[0].ItemKind)),
			zap.String("item_id", entries[0].ItemID.String()),
			zap.String("action", string(entries[0].Action)),
			zap.Int("entries", len(entries)),
		)
	}
}

func (r *Recorder) RecordAdminAction(ctx context.Context, actor model.Actor, action, targetType, targetID string, before, after map[string]any) {
	if r.audit == nil {
		r.dropped("admin", fmt.Errorf("audit store is nil"), zap.String("action", action))
		return
	}

	writeCtx, cancel := r.writeContext(ctx)
	defer cancel()

	entry := model.AuditEntry{
		AdminID:    actor.AdminID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Before:     before,
		After:      after,
		DeviceID:   actor.DeviceID,
		IPAddress:  actor.IPAddress,
		CreatedAt:  r.now().UTC(),
	}
	if err := r.audit.Insert(writeCtx, entry); err != nil {
		r.dropped("admin", err,
			zap.String("action", action),
			zap.String("target_type", targetType),
			zap.String("target_id", targetID),
		)
	}
}

func (r *Recorder) ItemHistory(ctx context.Context, kind enums.ItemKind, itemID uuid.UUID) ([]model.ModerationHistoryEntry, error) {
	if !kind.Valid() || itemID == uuid.Nil {
		return nil, fmt.Errorf("%w: item kind and id are required", errs.ErrValidation)
	}
	if r.history == nil {
		return nil, errs.Unavailable(fmt.Errorf("history store is nil"))
	}

	entries, err := r.history.ListByItem(ctx, kind, itemID)
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	return entries, nil
}

type ListFilter struct {
	AdminID *uuid.UUID
	Action  string
	From    *time.Time
	To      *time.Time
	Limit   int
}

func (r *Recorder) ListAudit(ctx context.Context, filter ListFilter) ([]model.AuditEntry, error) {
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, fmt.Errorf("%w: from must be before to", errs.ErrValidation)
	}
	if r.audit == nil {
		return nil, errs.Unavailable(fmt.Errorf("audit store is nil"))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	entries, err := r.audit.List(ctx, pgrepo.AuditFilter{
		AdminID: filter.AdminID,
		Action:  filter.Action,
		From:    filter.From,
		To:      filter.To,
		Limit:   limit,
	})
	if err != nil {
		return nil, errs.Unavailable(err)
	}
	return entries, nil
}

// writeContext detaches from the caller's cancellation so a finished request still gets its audit row.
func (r *Recorder) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
}

func (r *Recorder) dropped(log string, err error, fields ...zap.Field) {
	writeFailuresCounter.WithLabelValues(log).Inc()
	r.logger.Warn("audit write failed", append(fields, zap.String("log", log), zap.Error(err))...)
}
