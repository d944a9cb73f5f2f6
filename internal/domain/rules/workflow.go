package rules

import "github.com/ivankudzin/voxclip-safety/internal/domain/enums"

var workflowTransitions = map[enums.WorkflowState][]enums.WorkflowState{
	enums.WorkflowStatePending: {
		enums.WorkflowStateInReview,
		enums.WorkflowStateResolved,
		enums.WorkflowStateActioned,
	},
	enums.WorkflowStateInReview: {
		enums.WorkflowStatePending,
		enums.WorkflowStateResolved,
		enums.WorkflowStateActioned,
	},
}

// CanTransition reports whether the workflow allows moving from one state to another.
// Terminal states have no outgoing edges.
func CanTransition(from, to enums.WorkflowState) bool {
	for _, next := range workflowTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsOpen reports whether the item still awaits a decision.
func IsOpen(state enums.WorkflowState) bool {
	return state == enums.WorkflowStatePending || state == enums.WorkflowStateInReview
}
