package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/voxclip-safety/internal/domain/enums"
	"github.com/ivankudzin/voxclip-safety/internal/domain/errs"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
	"github.com/ivankudzin/voxclip-safety/internal/domain/rules"
	pgrepo "github.com/ivankudzin/voxclip-safety/internal/repo/postgres"
)

const (
	maxReasons       = 16
	maxReasonLength  = 64
	maxContentLength = 10000
	maxSearchLength  = 200
)

var errStoreNil = errors.New("moderation store is nil")

type ItemStore interface {
	Create(ctx context.Context, item model.ModerationItem) (model.ModerationItem, error)
	Get(ctx context.Context, kind enums.ItemKind, id uuid.UUID) (model.ModerationItem, error)
	List(ctx context.Context, filter pgrepo.ModerationFilter) ([]model.ModerationItem, int, error)
	UpdateAssignment(ctx context.Context, kind enums.ItemKind, id uuid.UUID, from, to enums.WorkflowState, assignee *uuid.UUID, now time.Time) (model.ModerationItem, error)
	UpdateState(ctx context.Context, kind enums.ItemKind, id uuid.UUID, from, to enums.WorkflowState, reviewer *uuid.UUID, now time.Time) (model.ModerationItem, error)
	UpdateNotes(ctx context.Context, kind enums.ItemKind, id uuid.UUID, notes *string, now time.Time) (*string, model.ModerationItem, error)
	ListStale(ctx context.Context, now time.Time, ageThreshold time.Duration, maxLevel, limit int) ([]model.ModerationItem, error)
	Escalate(ctx context.Context, kind enums.ItemKind, id uuid.UUID, expectedLevel, newLevel, priorityDelta, riskDelta int, now time.Time) (model.ModerationItem, bool, error)
}

// Trail receives history and audit rows. Its writes never fail.
type Trail interface {
	AppendHistory(ctx context.Context, entries ...model.ModerationHistoryEntry)
	RecordAdminAction(ctx context.Context, actor model.Actor, action, targetType, targetID string, before, after map[string]any)
	ItemHistory(ctx context.Context, kind enums.ItemKind, itemID uuid.UUID) ([]model.ModerationHistoryEntry, error)
}

type AssignmentNotifier interface {
	NotifyAssigned(ctx context.Context, adminID uuid.UUID, item model.ModerationItem) error
}

type EscalationConfig struct {
	AgeThreshold time.Duration
	MaxLevel     int
	PriorityStep int
	RiskStep     int
	BatchSize    int
}

type Config struct {
	RiskBands       rules.Bands
	DefaultPageSize int
	MaxPageSize     int
	Escalation      EscalationConfig
}

type Service struct {
	items    ItemStore
	trail    Trail
	notifier AssignmentNotifier
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(items ItemStore, trail Trail, notifier AssignmentNotifier, cfg Config, logger *zap.Logger) *Service {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if cfg.MaxPageSize < cfg.DefaultPageSize {
		cfg.MaxPageSize = cfg.DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if trail == nil {
		trail = nopTrail{}
	}
	return &Service{
		items:    items,
		trail:    trail,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

type FlagInput struct {
	SubjectResourceID string
	Reasons           []string
	Content           string
	RiskScore         int
	// Source defaults to automated.
	Source enums.ItemSource
}

type ReportInput struct {
	SubjectResourceID string
	ReporterID        *uuid.UUID
	Reasons           []string
	Content           string
	RiskScore         int
}

// EnqueueFlag adds a flag raised by content scanning or an operator.
func (s *Service) EnqueueFlag(ctx context.Context, input FlagInput) (model.ModerationItem, error) {
	source := input.Source
	if source == "" {
		source = enums.ItemSourceAutomated
	}
	if !source.Valid() {
		return model.ModerationItem{}, fmt.Errorf("%w: unknown source", errs.ErrValidation)
	}
	reasons, err := normalizeReasons(input.Reasons, false)
	if err != nil {
		return model.ModerationItem{}, err
	}

	return s.enqueue(ctx, model.ModerationItem{
		Kind:              enums.ItemKindFlag,
		SubjectResourceID: input.SubjectResourceID,
		Reasons:           reasons,
		Content:           input.Content,
		RiskScore:         input.RiskScore,
		Source:            source,
	})
}

// SubmitReport adds a community report. Reasons must be known report reasons.
func (s *Service) SubmitReport(ctx context.Context, input ReportInput) (model.ModerationItem, error) {
	if input.ReporterID != nil && *input.ReporterID == uuid.Nil {
		return model.ModerationItem{}, fmt.Errorf("%w: reporter id is invalid", errs.ErrValidation)
	}
	reasons, err := normalizeReasons(input.Reasons, true)
	if err != nil {
		return model.ModerationItem{}, err
	}

	return s.enqueue(ctx, model.ModerationItem{
		Kind:              enums.ItemKindReport,
		SubjectResourceID: input.SubjectResourceID,
		ReporterID:        input.ReporterID,
		Reasons:           reasons,
		Content:           input.Content,
		RiskScore:         input.RiskScore,
		Source:            enums.ItemSourceCommunity,
	})
}

func (s *Service) enqueue(ctx context.Context, item model.ModerationItem) (model.ModerationItem, error) {
	item.SubjectResourceID = strings.TrimSpace(item.SubjectResourceID)
	item.Content = strings.TrimSpace(item.Content)
	if item.SubjectResourceID == "" {
		return model.ModerationItem{}, fmt.Errorf("%w: subject resource id is required", errs.ErrValidation)
	}
	if len(item.Content) > maxContentLength {
		return model.ModerationItem{}, fmt.Errorf("%w: content is too long", errs.ErrValidation)
	}
	if item.RiskScore < 0 || item.RiskScore > rules.MaxRiskScore {
		return model.ModerationItem{}, fmt.Errorf("%w: risk score must be within 0..%d", errs.ErrValidation, rules.MaxRiskScore)
	}
	if s.items == nil {
		return model.ModerationItem{}, errs.Unavailable(errStoreNil)
	}

	now := s.now().UTC()
	item.ID = uuid.New()
	item.WorkflowState = enums.WorkflowStatePending
	item.Priority = rules.PriorityForSeverity(s.cfg.RiskBands.Classify(int64(item.RiskScore)))
	item.CreatedAt = now
	item.UpdatedAt = now

	created, err := s.items.Create(ctx, item)
	if err != nil {
		return model.ModerationItem{}, errs.Unavailable(err)
	}
	enqueuedCounter.WithLabelValues(string(created.Kind), string(created.Source)).Inc()
	return created, nil
}

type Query struct {
	Kind       *enums.ItemKind
	States     []enums.WorkflowState
	Source     *enums.ItemSource
	RiskBand   *enums.Severity
	Unassigned bool
	AssignedTo *uuid.UUID
	Search     string
	Sort       string
	Limit      int
	Offset     int
}

type QueueResult struct {
	Flags        []model.ModerationItem `json:"flags"`
	Reports      []model.ModerationItem `json:"reports"`
	TotalFlags   int                    `json:"total_flags"`
	TotalReports int                    `json:"total_reports"`
}

// List returns both kinds of items, each page filtered and sorted independently.
func (s *Service) List(ctx context.Context, query Query) (QueueResult, error) {
	filter, err := s.buildFilter(query)
	if err != nil {
		return QueueResult{}, err
	}
	if s.items == nil {
		return QueueResult{}, errs.Unavailable(errStoreNil)
	}

	result := QueueResult{
		Flags:   []model.ModerationItem{},
		Reports: []model.ModerationItem{},
	}
	for _, kind := range []enums.ItemKind{enums.ItemKindFlag, enums.ItemKindReport} {
		if query.Kind != nil && *query.Kind != kind {
			continue
		}
		kind := kind
		filter.Kind = &kind

		items, total, err := s.items.List(ctx, filter)
		if err != nil {
			return QueueResult{}, errs.Unavailable(err)
		}
		if kind == enums.ItemKindFlag {
			result.Flags, result.TotalFlags = items, total
		} else {
			result.Reports, result.TotalReports = items, total
		}
	}
	return result, nil
}

func (s *Service) buildFilter(query Query) (pgrepo.ModerationFilter, error) {
	if query.Kind != nil && !query.Kind.Valid() {
		return pgrepo.ModerationFilter{}, fmt.Errorf("%w: unknown item kind", errs.ErrValidation)
	}
	for _, state := range query.States {
		if !state.Valid() {
			return pgrepo.ModerationFilter{}, fmt.Errorf("%w: unknown workflow state", errs.ErrValidation)
		}
	}
	if query.Source != nil && !query.Source.Valid() {
		return pgrepo.ModerationFilter{}, fmt.Errorf("%w: unknown source", errs.ErrValidation)
	}
	if query.Unassigned && query.AssignedTo != nil {
		return pgrepo.ModerationFilter{}, fmt.Errorf("%w: unassigned and assigned_to are exclusive", errs.ErrValidation)
	}

	sort := strings.ToLower(strings.TrimSpace(query.Sort))
	switch sort {
	case "":
		sort = pgrepo.SortPriority
	case pgrepo.SortPriority, pgrepo.SortNewest, pgrepo.SortOldest:
	default:
		return pgrepo.ModerationFilter{}, fmt.Errorf("%w: unknown sort", errs.ErrValidation)
	}

	search := strings.TrimSpace(query.Search)
	if len(search) > maxSearchLength {
		return pgrepo.ModerationFilter{}, fmt.Errorf("%w: search is too long", errs.ErrValidation)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	filter := pgrepo.ModerationFilter{
		States:     query.States,
		Source:     query.Source,
		Unassigned: query.Unassigned,
		AssignedTo: query.AssignedTo,
		Search:     search,
		Sort:       sort,
		Limit:      limit,
		Offset:     offset,
	}
	if query.RiskBand != nil {
		lower, upper, ok := s.cfg.RiskBands.Range(*query.RiskBand)
		if !ok {
			return pgrepo.ModerationFilter{}, fmt.Errorf("%w: unknown risk band", errs.ErrValidation)
		}
		filter.RiskMin = &lower
		filter.RiskMax = upper
	}
	return filter, nil
}

func (s *Service) Get(ctx context.Context, kind enums.ItemKind, id uuid.UUID) (model.ModerationItem, error) {
	if !kind.Valid() || id == uuid.Nil {
		return model.ModerationItem{}, fmt.Errorf("%w: item kind and id are required", errs.ErrValidation)
	}
	if s.items == nil {
		return model.ModerationItem{}, errs.Unavailable(errStoreNil)
	}

	item, err := s.items.Get(ctx, kind, id)
	if err != nil {
		return model.ModerationItem{}, storeError(err)
	}
	return item, nil
}

// History returns the item's history in chronological order.
func (s *Service) History(ctx context.Context, kind enums.ItemKind, id uuid.UUID) ([]model.ModerationHistoryEntry, error) {
	if _, err := s.Get(ctx, kind, id); err != nil {
		return nil, err
	}
	return s.trail.ItemHistory(ctx, kind, id)
}

func normalizeReasons(raw []string, reportReasons bool) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: at least one reason is required", errs.ErrValidation)
	}
	if len(raw) > maxReasons {
		return nil, fmt.Errorf("%w: too many reasons", errs.ErrValidation)
	}

	seen := make(map[string]struct{}, len(raw))
	reasons := make([]string, 0, len(raw))
	for _, reason := range raw {
		reason = strings.ToLower(strings.TrimSpace(reason))
		if reason == "" || len(reason) > maxReasonLength {
			return nil, fmt.Errorf("%w: invalid reason", errs.ErrValidation)
		}
		if reportReasons {
			if _, ok := enums.ParseReportReason(reason); !ok {
				return nil, fmt.Errorf("%w: unknown report reason %q", errs.ErrValidation, reason)
			}
		}
		if _, dup := seen[reason]; dup {
			continue
		}
		seen[reason] = struct{}{}
		reasons = append(reasons, reason)
	}
	return reasons, nil
}

// storeError keeps not-found and conflicts as they are and marks anything else unavailable.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrInvalidTransition), errors.Is(err, errs.ErrValidation):
		return err
	default:
		return errs.Unavailable(err)
	}
}

type nopTrail struct{}

func (nopTrail) AppendHistory(context.Context, ...model.ModerationHistoryEntry) {}

func (nopTrail) RecordAdminAction(context.Context, model.Actor, string, string, string, map[string]any, map[string]any) {
}

func (nopTrail) ItemHistory(context.Context, enums.ItemKind, uuid.UUID) ([]model.ModerationHistoryEntry, error) {
	return nil, errs.Unavailable(fmt.Errorf("history trail is not configured"))
}
