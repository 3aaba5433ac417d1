package events

import (
	"time"

	"ongoal/internal/goal"
)

type Type string

const (
	TypeGoalsInferred     Type = "goals_inferred"
	TypeGoalsUpdated      Type = "goals_updated"
	TypeGoalsEvaluated    Type = "goals_evaluated"
	TypePipelineToggled   Type = "pipeline_toggled"
	TypeError             Type = "error"
	TypeGoalChanged       Type = "goal_changed"
	TypeGoalDeleted       Type = "goal_deleted"
	TypeResponseChunk     Type = "response_chunk"
	TypeResponseComplete  Type = "response_complete"
	TypeConversationState Type = "conversation_state"
)

type Event struct {
	Seq            uint64    `json:"seq"`
	Type           Type      `json:"type"`
	ConversationID string    `json:"conversation_id"`
	At             time.Time `json:"at"`
	Data           any       `json:"data"`
}

type GoalsInferred struct {
	MessageID  string               `json:"message_id"`
	Candidates []goal.CandidateGoal `json:"candidates"`
}

type GoalsUpdated struct {
	MessageID  string           `json:"message_id"`
	Goals      []goal.Goal      `json:"goals"`
	Operations []goal.Operation `json:"operations"`
}

type GoalsEvaluated struct {
	MessageID   string            `json:"message_id"`
	Evaluations []goal.Evaluation `json:"evaluations"`
	Goals       []goal.Goal       `json:"goals"`
}

type PipelineToggled struct {
	Stage   goal.Stage `json:"stage"`
	Enabled bool       `json:"enabled"`
}

type Error struct {
	Stage   string `json:"stage"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type GoalChanged struct {
	Goal goal.Goal `json:"goal"`
}

type GoalDeleted struct {
	GoalID string `json:"goal_id"`
}

type ResponseChunk struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

type ResponseComplete struct {
	MessageID string `json:"message_id"`
	FullText  string `json:"full_text"`
}
