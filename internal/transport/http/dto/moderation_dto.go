package dto

import (
	"github.com/google/uuid"

	"github.com/ivankudzin/voxclip-safety/internal/domain/model"
)

type FlagRequest struct {
	SubjectResourceID string   `json:"subject_resource_id"`
	Reasons           []string `json:"reasons"`
	Content           string   `json:"content"`
	RiskScore         int      `json:"risk_score"`
	Source            string   `json:"source"`
}

type ReportRequest struct {
	SubjectResourceID string     `json:"subject_resource_id"`
	ReporterID        *uuid.UUID `json:"reporter_id"`
	Reasons           []string   `json:"reasons"`
	Content           string     `json:"content"`
	RiskScore         int        `json:"risk_score"`
}

// AssignRequest clears the assignee when assignee_id is null.
type AssignRequest struct {
	AssigneeID *uuid.UUID `json:"assignee_id"`
}

type StateRequest struct {
	State string  `json:"state"`
	Note  *string `json:"note"`
}

type BulkStateRequest struct {
	IDs   []uuid.UUID `json:"ids"`
	State string      `json:"state"`
	Note  *string     `json:"note"`
}

type NotesRequest struct {
	Notes string `json:"notes"`
}

type HistoryResponse struct {
	Items []model.ModerationHistoryEntry `json:"items"`
}
