package enums

import "strings"

type WorkflowState string

const (
	WorkflowStatePending  WorkflowState = "pending"
	WorkflowStateInReview WorkflowState = "in_review"
	WorkflowStateResolved WorkflowState = "resolved"
	WorkflowStateActioned WorkflowState = "actioned"
)

func (s WorkflowState) Valid() bool {
	switch s {
	case WorkflowStatePending, WorkflowStateInReview, WorkflowStateResolved, WorkflowStateActioned:
		return true
	default:
		return false
	}
}

func (s WorkflowState) IsTerminal() bool {
	return s == WorkflowStateResolved || s == WorkflowStateActioned
}

func ParseWorkflowState(raw string) (WorkflowState, bool) {
	state := WorkflowState(strings.ToLower(strings.TrimSpace(raw)))
	return state, state.Valid()
}

type ItemKind string

const (
	ItemKindFlag   ItemKind = "flag"
	ItemKindReport ItemKind = "report"
)

func (k ItemKind) Valid() bool {
	return k == ItemKindFlag || k == ItemKindReport
}

// ParseItemKind accepts both singular and plural path segments.
func ParseItemKind(raw string) (ItemKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "flag", "flags":
		return ItemKindFlag, true
	case "report", "reports":
		return ItemKindReport, true
	default:
		return "", false
	}
}

type ItemSource string

const (
	ItemSourceAutomated ItemSource = "automated"
	ItemSourceCommunity ItemSource = "community"
)

func (s ItemSource) Valid() bool {
	return s == ItemSourceAutomated || s == ItemSourceCommunity
}

type HistoryAction string

const (
	HistoryActionAssigned     HistoryAction = "assigned"
	HistoryActionUnassigned   HistoryAction = "unassigned"
	HistoryActionStateChanged HistoryAction = "state_changed"
	HistoryActionNoteUpdated  HistoryAction = "note_updated"
	HistoryActionEscalated    HistoryAction = "escalated"
)
