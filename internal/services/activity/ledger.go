package activity

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/voxclip-safety/internal/domain/errs"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

const defaultWriteTimeout = time.Second

type RecordStore interface {
	Insert(ctx context.Context, record model.ActivityRecord) error
}

// CounterObserver maintains running aggregates next to the ledger.
type CounterObserver interface {
	Observe(ctx context.Context, record model.ActivityRecord) error
}

type Entry struct {
	IP         string
	ActionType string
	ProfileID  *uuid.UUID
	ResourceID *string
	DeviceID   *string
	UserAgent  *string
	Metadata   map[string]any
}

type Ledger struct {
	store        RecordStore
	counters     CounterObserver
	logger       *zap.Logger
	writeTimeout time.Duration
	now          func() time.Time
}

// NewLedger builds the activity ledger. counters may be nil.
func NewLedger(store RecordStore, counters CounterObserver, writeTimeout time.Duration, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Ledger{
		store:        store,
		counters:     counters,
		logger:       logger,
		writeTimeout: writeTimeout,
		now:          time.Now,
	}
}

// LogIPActivity appends one activity record. Only invalid input is reported;
// store failures are logged and dropped so the recorded action still succeeds.
func (l *Ledger) LogIPActivity(ctx context.Context, entry Entry) (model.ActivityRecord, error) {
	record, err := l.buildRecord(entry)
	if err != nil {
		return model.ActivityRecord{}, err
	}

	writeCtx, cancel := context.WithTimeout(ctx, l.writeTimeout)
	defer cancel()

	if l.store == nil {
		l.dropped("ledger", record, fmt.Errorf("activity store is nil"))
	} else if err := l.store.Insert(writeCtx, record); err != nil {
		l.dropped("ledger", record, err)
	}

	if l.counters != nil {
		if err := l.counters.Observe(writeCtx, record); err != nil {
			l.dropped("counters", record, err)
		}
	}

	return record, nil
}

func (l *Ledger) buildRecord(entry Entry) (model.ActivityRecord, error) {
	ip, err := NormalizeIP(entry.IP)
	if err != nil {
		return model.ActivityRecord{}, err
	}
	actionType := strings.ToLower(strings.TrimSpace(entry.ActionType))
	if actionType == "" {
		return model.ActivityRecord{}, fmt.Errorf("%w: action type is required", errs.ErrValidation)
	}
	if entry.ProfileID != nil && *entry.ProfileID == uuid.Nil {
		return model.ActivityRecord{}, fmt.Errorf("%w: profile id is invalid", errs.ErrValidation)
	}

	return model.ActivityRecord{
		Subject:          ip,
		ActionType:       actionType,
		ProfileID:        entry.ProfileID,
		TargetResourceID: trimmedOrNil(entry.ResourceID),
		DeviceID:         trimmedOrNil(entry.DeviceID),
		UserAgent:        trimmedOrNil(entry.UserAgent),
		Metadata:         entry.Metadata,
		CreatedAt:        l.now().UTC(),
	}, nil
}

func (l *Ledger) dropped(target string, record model.ActivityRecord, err error) {
	droppedWritesCounter.WithLabelValues(target).Inc()
	l.logger.Warn("activity write failed",
		zap.String("target", target),
		zap.String("subject", record.Subject),
		zap.String("action_type", record.ActionType),
		zap.Error(err),
	)
}

// NormalizeIP validates an address and returns its canonical text form.
func NormalizeIP(raw string) (string, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: invalid ip address", errs.ErrValidation)
	}
	return addr.Unmap().String(), nil
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
