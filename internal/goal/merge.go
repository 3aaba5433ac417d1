package goal

type OperationKind string

const (
	OpCreate     OperationKind = "create"
	OpUpdate     OperationKind = "update"
	OpSupersede  OperationKind = "supersede"
	OpNoop       OperationKind = "noop"
	OpNoopLocked OperationKind = "noop_locked"
)

// ReasonLockedConflict marks an operation that was dropped because its target is locked.
const ReasonLockedConflict = "LockedGoalConflict"

// Operation records what merge did with one candidate.
type Operation struct {
	Index     int           `json:"index"`
	Candidate CandidateGoal `json:"candidate"`
	Kind      OperationKind `json:"operation"`
	// GoalID is the goal that now carries the candidate: the created, updated
	// or superseding goal, or the matched goal for noops.
	GoalID string `json:"goal_id,omitempty"`
	// TargetID is the existing goal the candidate matched, if any.
	TargetID string `json:"target_id,omitempty"`
	// Text is the resulting goal text for create, update and supersede.
	Text   string `json:"text,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// MergeResult is the authoritative live goal set after a merge pass.
type MergeResult struct {
	Goals      []Goal      `json:"goals"`
	Retired    []Goal      `json:"retired,omitempty"`
	Operations []Operation `json:"operations"`
}

// Goal returns the goal with id from the live set.
func (r MergeResult) Goal(id string) (Goal, bool) {
	for _, g := range r.Goals {
		if g.ID == id {
			return g, true
		}
	}
	return Goal{}, false
}
