package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/ivankudzin/voxclip-safety/internal/domain/enums"
)

// ModerationItem is a flag or a report. Both kinds share one lifecycle.
type ModerationItem struct {
	ID                uuid.UUID           `json:"id"`
	Kind              enums.ItemKind      `json:"kind"`
	SubjectResourceID string              `json:"subject_resource_id"`
	ReporterID        *uuid.UUID          `json:"reporter_id,omitempty"`
	Reasons           []string            `json:"reasons"`
	Content           string              `json:"content,omitempty"`
	RiskScore         int                 `json:"risk_score"`
	Source            enums.ItemSource    `json:"source"`
	WorkflowState     enums.WorkflowState `json:"workflow_state"`
	AssignedTo        *uuid.UUID          `json:"assigned_to,omitempty"`
	Priority          int                 `json:"priority"`
	EscalationLevel   int                 `json:"escalation_level"`
	Notes             *string             `json:"notes,omitempty"`
	ReviewedAt        *time.Time          `json:"reviewed_at,omitempty"`
	ReviewedBy        *uuid.UUID          `json:"reviewed_by,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

type ModerationHistoryEntry struct {
	ID            int64               `json:"id"`
	ItemKind      enums.ItemKind      `json:"item_kind"`
	ItemID        uuid.UUID           `json:"item_id"`
	Action        enums.HistoryAction `json:"action"`
	AdminID       *uuid.UUID          `json:"admin_id,omitempty"`
	PreviousValue *string             `json:"previous_value,omitempty"`
	NewValue      *string             `json:"new_value,omitempty"`
	Notes         *string             `json:"notes,omitempty"`
	Details       map[string]any      `json:"details,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}
