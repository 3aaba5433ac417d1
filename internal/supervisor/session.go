package supervisor

import (
	"time"

	"github.com/google/uuid"

	"ongoal/internal/conversation"
	"ongoal/internal/goal"
	"ongoal/internal/pipeline"
)

type Session struct {
	ID           string
	Conversation *conversation.Conversation
	Orchestrator *pipeline.Orchestrator
	CreatedAt    time.Time
}

type Summary struct {
	ID        string         `json:"id"`
	Messages  int            `json:"message_count"`
	Goals     int            `json:"goal_count"`
	State     pipeline.State `json:"state"`
	Settings  goal.Settings  `json:"pipeline_settings"`
	CreatedAt time.Time      `json:"created_at"`
}

func (s *Session) Summary() Summary {
	snap := s.Conversation.Snapshot()
	return Summary{
		ID:        s.ID,
		Messages:  len(snap.Messages),
		Goals:     len(snap.Goals),
		State:     s.Orchestrator.State(),
		Settings:  snap.Settings,
		CreatedAt: s.CreatedAt,
	}
}

// TurnResult is what one full exchange produced.
type TurnResult struct {
	ConversationID string        `json:"conversation_id"`
	UserMessage    goal.Message  `json:"user_message"`
	Reply          goal.Message  `json:"reply"`
	Goals          []goal.Goal   `json:"goals"`
	Duration       time.Duration `json:"duration"`
}

func newSessionID() string {
	return uuid.New().String()[:8]
}
