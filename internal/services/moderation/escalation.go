package moderation

import (
	"context"
	"strconv"
	"time"

	"github.com/ivankudzin/voxclip-safety/internal/domain/enums"
	"github.com/ivankudzin/voxclip-safety/internal/domain/errs"
	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
	"github.com/ivankudzin/voxclip-safety/internal/domain/rules"
)

const maxSweepPages = 50

type EscalationReport struct {
	Scanned   int `json:"scanned"`
	Escalated int `json:"escalated"`
}

// EscalateStale raises priority and risk of open items that aged past the threshold.
// An item moves to level floor(age / threshold), capped at the max level, and each bump
// is conditional on the level it was read at, so repeated or concurrent sweeps apply it once.
func (s *Service) EscalateStale(ctx context.Context) (EscalationReport, error) {
	cfg := s.cfg.Escalation
	if cfg.AgeThreshold <= 0 || cfg.MaxLevel <= 0 {
		return EscalationReport{}, nil
	}
	if s.items == nil {
		return EscalationReport{}, errs.Unavailable(errStoreNil)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	var report EscalationReport
	for page := 0; page < maxSweepPages; page++ {
		now := s.now().UTC()
		items, err := s.items.ListStale(ctx, now, cfg.AgeThreshold, cfg.MaxLevel, batchSize)
		if err != nil {
			return report, errs.Unavailable(err)
		}
		report.Scanned += len(items)

		entries := make([]model.ModerationHistoryEntry, 0, len(items))
		for _, item := range items {
			target := TargetLevel(now.Sub(item.CreatedAt), cfg.AgeThreshold, cfg.MaxLevel)
			if item.EscalationLevel >= target {
				continue
			}
			delta := target - item.EscalationLevel

			updated, ok, err := s.items.Escalate(ctx, item.Kind, item.ID, item.EscalationLevel, target,
				delta*cfg.PriorityStep, delta*cfg.RiskStep, now)
			if err != nil {
				return report, errs.Unavailable(err)
			}
			if !ok {
				continue
			}

			report.Escalated++
			escalationsCounter.Inc()
			entries = append(entries, escalationEntry(item, updated))
		}
		s.trail.AppendHistory(ctx, entries...)

		if len(items) < batchSize || len(entries) == 0 {
			break
		}
	}
	return report, nil
}

// TriggerEscalation runs a sweep on behalf of an admin and audits it.
func (s *Service) TriggerEscalation(ctx context.Context, actor model.Actor) (EscalationReport, error) {
	report, err := s.EscalateStale(ctx)
	if err != nil {
		return report, err
	}
	s.trail.RecordAdminAction(ctx, actor, AuditActionEscalation, "moderation_queue", "escalation", nil, map[string]any{
		"scanned":   report.Scanned,
		"escalated": report.Escalated,
	})
	return report, nil
}

func TargetLevel(age, threshold time.Duration, maxLevel int) int {
	if age <= 0 || threshold <= 0 {
		return 0
	}
	level := int(age / threshold)
	if level > maxLevel {
		level = maxLevel
	}
	return level
}

func escalationEntry(before, after model.ModerationItem) model.ModerationHistoryEntry {
	previous := strconv.Itoa(before.Priority)
	next := strconv.Itoa(after.Priority)
	return model.ModerationHistoryEntry{
		ItemKind:      after.Kind,
		ItemID:        after.ID,
		Action:        enums.HistoryActionEscalated,
		PreviousValue: &previous,
		NewValue:      &next,
		Details: map[string]any{
			"level_from":    before.EscalationLevel,
			"level_to":      after.EscalationLevel,
			"risk_from":     before.RiskScore,
			"risk_to":       rules.ClampRiskScore(after.RiskScore),
			"priority_from": before.Priority,
			"priority_to":   after.Priority,
		},
	}
}
