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
	AuditActionAssign     = "moderation.assign"
	AuditActionUnassign   = "moderation.unassign"
	AuditActionState      = "moderation.state"
	AuditActionBulkState  = "moderation.bulk_state"
	AuditActionNote       = "moderation.note"
	AuditActionEscalation = "moderation.escalation_sweep"

	maxBulkItems       = 500
	maxNoteLength      = 5000
	maxConflictRetries = 3
	notifyTimeout      = 5 * time.Second
)

// Bulk failure reasons.
const (
	FailureNotFound          = "not_found"
	FailureInvalidTransition = "invalid_transition"
	FailureUnavailable       = "store_unavailable"
)

// Assign sets or clears the assignee. Assigning moves a pending item to in_review;
// clearing moves an in_review item back to pending.
func (s *Service) Assign(ctx context.Context, actor model.Actor, kind enums.ItemKind, id uuid.UUID, assignee *uuid.UUID) (model.ModerationItem, error) {
	if !kind.Valid() || id == uuid.Nil {
		return model.ModerationItem{}, fmt.Errorf("%w: item kind and id are required", errs.ErrValidation)
	}
	if assignee != nil && *assignee == uuid.Nil {
		return model.ModerationItem{}, fmt.Errorf("%w: assignee id is invalid", errs.ErrValidation)
	}
	if s.items == nil {
		return model.ModerationItem{}, errs.Unavailable(errStoreNil)
	}

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		item, err := s.items.Get(ctx, kind, id)
		if err != nil {
			return model.ModerationItem{}, storeError(err)
		}
		if item.WorkflowState.IsTerminal() {
			return model.ModerationItem{}, fmt.Errorf("%w: item is %s", errs.ErrInvalidTransition, item.WorkflowState)
		}

		to := enums.WorkflowStatePending
		action := enums.HistoryActionUnassigned
		auditAction := AuditActionUnassign
		if assignee != nil {
			to = enums.WorkflowStateInReview
			action = enums.HistoryActionAssigned
			auditAction = AuditActionAssign
			if item.AssignedTo != nil && *item.AssignedTo == *assignee && item.WorkflowState == to {
				return item, nil
			}
		} else if item.WorkflowState == enums.WorkflowStatePending && item.AssignedTo == nil {
			return item, nil
		}

		updated, err := s.items.UpdateAssignment(ctx, kind, id, item.WorkflowState, to, assignee, s.now().UTC())
		if errors.Is(err, pgrepo.ErrStateConflict) {
			continue
		}
		if err != nil {
			return model.ModerationItem{}, storeError(err)
		}

		entry := historyEntry(updated, action, actor, string(item.WorkflowState), string(updated.WorkflowState), nil)
		entry.Details = map[string]any{
			"previous_assignee": uuidString(item.AssignedTo),
			"assigned_to":       uuidString(updated.AssignedTo),
		}
		s.trail.AppendHistory(ctx, entry)
		s.trail.RecordAdminAction(ctx, actor, auditAction, string(kind), id.String(), itemSnapshot(item), itemSnapshot(updated))
		transitionsCounter.WithLabelValues(string(kind), string(updated.WorkflowState)).Inc()

		if assignee != nil {
			s.notifyAssigned(ctx, *assignee, updated)
		}
		return updated, nil
	}

	return model.ModerationItem{}, fmt.Errorf("%w: item changed concurrently", errs.ErrInvalidTransition)
}

// UpdateWorkflowState records a decision. Only resolved and actioned are reachable here;
// in_review and pending follow from assignment.
func (s *Service) UpdateWorkflowState(ctx context.Context, actor model.Actor, kind enums.ItemKind, id uuid.UUID, state enums.WorkflowState, note *string) (model.ModerationItem, error) {
	if !kind.Valid() || id == uuid.Nil {
		return model.ModerationItem{}, fmt.Errorf("%w: item kind and id are required", errs.ErrValidation)
	}
	note, err := normalizeNote(note)
	if err != nil {
		return model.ModerationItem{}, err
	}
	if err := validateDecision(state); err != nil {
		return model.ModerationItem{}, err
	}
	if s.items == nil {
		return model.ModerationItem{}, errs.Unavailable(errStoreNil)
	}

	before, after, err := s.applyDecision(ctx, actor, kind, id, state)
	if err != nil {
		return model.ModerationItem{}, err
	}

	s.trail.AppendHistory(ctx, historyEntry(after, enums.HistoryActionStateChanged, actor, string(before.WorkflowState), string(after.WorkflowState), note))
	s.trail.RecordAdminAction(ctx, actor, AuditActionState, string(kind), id.String(), itemSnapshot(before), itemSnapshot(after))
	return after, nil
}

type BulkFailure struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

type BulkResult struct {
	Updated []uuid.UUID   `json:"updated"`
	Failed  []BulkFailure `json:"failed"`
}

// BulkUpdate applies one decision to many items. Every item is transitioned and
// recorded independently; one failure does not stop the rest.
func (s *Service) BulkUpdate(ctx context.Context, actor model.Actor, kind enums.ItemKind, ids []uuid.UUID, state enums.WorkflowState, note *string) (BulkResult, error) {
	if !kind.Valid() {
		return BulkResult{}, fmt.Errorf("%w: unknown item kind", errs.ErrValidation)
	}
	if len(ids) == 0 || len(ids) > maxBulkItems {
		return BulkResult{}, fmt.Errorf("%w: between 1 and %d item ids are required", errs.ErrValidation, maxBulkItems)
	}
	note, err := normalizeNote(note)
	if err != nil {
		return BulkResult{}, err
	}
	if err := validateDecision(state); err != nil {
		return BulkResult{}, err
	}
	if s.items == nil {
		return BulkResult{}, errs.Unavailable(errStoreNil)
	}

	result := BulkResult{Updated: []uuid.UUID{}, Failed: []BulkFailure{}}
	entries := make([]model.ModerationHistoryEntry, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if id == uuid.Nil {
			result.Failed = append(result.Failed, BulkFailure{ID: id, Reason: FailureNotFound})
			continue
		}

		before, after, err := s.applyDecision(ctx, actor, kind, id, state)
		if err != nil {
			result.Failed = append(result.Failed, BulkFailure{ID: id, Reason: failureReason(err)})
			continue
		}

		result.Updated = append(result.Updated, id)
		entries = append(entries, historyEntry(after, enums.HistoryActionStateChanged, actor, string(before.WorkflowState), string(after.WorkflowState), note))
		s.trail.RecordAdminAction(ctx, actor, AuditActionBulkState, string(kind), id.String(), itemSnapshot(before), itemSnapshot(after))
	}

	s.trail.AppendHistory(ctx, entries...)
	return result, nil
}

// AddNote replaces the item's notes. The previous text is kept in history.
func (s *Service) AddNote(ctx context.Context, actor model.Actor, kind enums.ItemKind, id uuid.UUID, note string) (model.ModerationItem, error) {
	if !kind.Valid() || id == uuid.Nil {
		return model.ModerationItem{}, fmt.Errorf("%w: item kind and id are required", errs.ErrValidation)
	}
	normalized, err := normalizeNote(&note)
	if err != nil {
		return model.ModerationItem{}, err
	}
	if s.items == nil {
		return model.ModerationItem{}, errs.Unavailable(errStoreNil)
	}

	previous, updated, err := s.items.UpdateNotes(ctx, kind, id, normalized, s.now().UTC())
	if err != nil {
		return model.ModerationItem{}, storeError(err)
	}
	if equalStrings(previous, normalized) {
		return updated, nil
	}

	entry := historyEntry(updated, enums.HistoryActionNoteUpdated, actor, "", "", nil)
	entry.PreviousValue = previous
	entry.NewValue = normalized
	s.trail.AppendHistory(ctx, entry)
	s.trail.RecordAdminAction(ctx, actor, AuditActionNote, string(kind), id.String(),
		map[string]any{"notes": stringOrNil(previous)},
		map[string]any{"notes": stringOrNil(normalized)},
	)
	return updated, nil
}

func (s *Service) applyDecision(ctx context.Context, actor model.Actor, kind enums.ItemKind, id uuid.UUID, state enums.WorkflowState) (model.ModerationItem, model.ModerationItem, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		item, err := s.items.Get(ctx, kind, id)
		if err != nil {
			return model.ModerationItem{}, model.ModerationItem{}, storeError(err)
		}
		if !rules.CanTransition(item.WorkflowState, state) {
			return model.ModerationItem{}, model.ModerationItem{}, fmt.Errorf("%w: %s to %s", errs.ErrInvalidTransition, item.WorkflowState, state)
		}

		updated, err := s.items.UpdateState(ctx, kind, id, item.WorkflowState, state, actor.AdminID, s.now().UTC())
		if errors.Is(err, pgrepo.ErrStateConflict) {
			continue
		}
		if err != nil {
			return model.ModerationItem{}, model.ModerationItem{}, storeError(err)
		}

		transitionsCounter.WithLabelValues(string(kind), string(updated.WorkflowState)).Inc()
		return item, updated, nil
	}
	return model.ModerationItem{}, model.ModerationItem{}, fmt.Errorf("%w: item changed concurrently", errs.ErrInvalidTransition)
}

func (s *Service) notifyAssigned(ctx context.Context, adminID uuid.UUID, item model.ModerationItem) {
	if s.notifier == nil {
		return
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.NotifyAssigned(notifyCtx, adminID, item); err != nil {
		s.logger.Warn("assignment notification failed",
			zap.String("admin_id", adminID.String()),
			zap.String("item_id", item.ID.String()),
			zap.Error(err),
		)
	}
}

func validateDecision(state enums.WorkflowState) error {
	if !state.Valid() {
		return fmt.Errorf("%w: unknown workflow state", errs.ErrValidation)
	}
	if !state.IsTerminal() {
		return fmt.Errorf("%w: %s is reached through assignment", errs.ErrInvalidTransition, state)
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return FailureNotFound
	case errors.Is(err, errs.ErrInvalidTransition):
		return FailureInvalidTransition
	default:
		return FailureUnavailable
	}
}

func historyEntry(item model.ModerationItem, action enums.HistoryAction, actor model.Actor, previous, next string, notes *string) model.ModerationHistoryEntry {
	entry := model.ModerationHistoryEntry{
		ItemKind: item.Kind,
		ItemID:   item.ID,
		Action:   action,
		AdminID:  actor.AdminID,
		Notes:    notes,
	}
	if previous != "" {
		entry.PreviousValue = &previous
	}
	if next != "" {
		entry.NewValue = &next
	}
	return entry
}

func itemSnapshot(item model.ModerationItem) map[string]any {
	return map[string]any{
		"workflow_state":   string(item.WorkflowState),
		"assigned_to":      uuidString(item.AssignedTo),
		"priority":         item.Priority,
		"risk_score":       item.RiskScore,
		"escalation_level": item.EscalationLevel,
		"notes":            stringOrNil(item.Notes),
	}
}

func normalizeNote(note *string) (*string, error) {
	if note == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*note)
	if len(trimmed) > maxNoteLength {
		return nil, fmt.Errorf("%w: note must be at most %d characters", errs.ErrValidation, maxNoteLength)
	}
	if trimmed == "" {
		return nil, nil
	}
	return &trimmed, nil
}

func uuidString(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func stringOrNil(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func equalStrings(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
