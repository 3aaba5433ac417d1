package conversation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ongoal/internal/goal"
)

var (
	ErrGoalNotFound      = errors.New("goal not found")
	ErrInvalidTransition = errors.New("invalid stage transition")
)

// Conversation is the mutable, process-resident aggregate of one session:
// messages, the live goal set and the pipeline settings.
type Conversation struct {
	mu       sync.RWMutex
	id       string
	messages []goal.Message
	goals    []goal.Goal
	retired  []goal.Goal
	settings goal.Settings

	// awaiting is the user message whose reply has not completed yet;
	// open is the assistant message currently being streamed for it.
	awaiting string
	open     string

	now   func() time.Time
	newID func() string
}

type Snapshot struct {
	ID       string         `json:"id"`
	Messages []goal.Message `json:"messages"`
	Goals    []goal.Goal    `json:"goals"`
	Retired  []goal.Goal    `json:"retired,omitempty"`
	Settings goal.Settings  `json:"pipeline_settings"`
}

func New(id string, settings goal.Settings) *Conversation {
	return &Conversation{
		id:       id,
		settings: settings,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

func (c *Conversation) ID() string { return c.id }

func (c *Conversation) Settings() goal.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

func (c *Conversation) SetStage(st goal.Stage, enabled bool) goal.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Set(st, enabled)
	return c.settings
}

// AppendUserMessage opens a new turn. A previous turn whose reply never
// completed is abandoned; its assistant message stays incomplete.
func (c *Conversation) AppendUserMessage(text string) (goal.Message, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	abandoned := c.open
	msg := goal.Message{
		ID:        c.newID(),
		Role:      goal.RoleUser,
		Content:   text,
		Timestamp: c.now(),
		Complete:  true,
	}
	c.messages = append(c.messages, msg)
	c.awaiting = msg.ID
	c.open = ""
	return msg, abandoned
}

// StartResponse creates the assistant message for the awaiting user message.
func (c *Conversation) StartResponse() (goal.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.awaiting == "" || c.open != "" {
		return goal.Message{}, fmt.Errorf("%w: no user message awaiting a response", ErrInvalidTransition)
	}
	msg := goal.Message{
		ID:        c.newID(),
		Role:      goal.RoleAssistant,
		Timestamp: c.now(),
	}
	c.messages = append(c.messages, msg)
	c.open = msg.ID
	return msg, nil
}

func (c *Conversation) AppendResponse(messageID, chunk string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if messageID == "" || messageID != c.open {
		return fmt.Errorf("%w: message %s is not streaming", ErrInvalidTransition, messageID)
	}
	i := c.messageIndex(messageID)
	c.messages[i].Content += chunk
	return nil
}

// CompleteResponse closes the current turn. fullText replaces the streamed
// content when non-empty.
func (c *Conversation) CompleteResponse(messageID, fullText string) (goal.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if messageID == "" || messageID != c.open {
		return goal.Message{}, fmt.Errorf("%w: message %s has no open response", ErrInvalidTransition, messageID)
	}
	i := c.messageIndex(messageID)
	if fullText != "" {
		c.messages[i].Content = fullText
	}
	c.messages[i].Complete = true
	c.open = ""
	c.awaiting = ""
	return c.messages[i], nil
}

// History returns up to limit messages preceding messageID, oldest first.
func (c *Conversation) History(messageID string, limit int) []goal.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	end := c.messageIndex(messageID)
	if end < 0 {
		end = len(c.messages)
	}
	start := 0
	if limit >= 0 && end-limit > start {
		start = end - limit
	}
	return append([]goal.Message(nil), c.messages[start:end]...)
}

// Messages returns every message, including the one being streamed.
func (c *Conversation) Messages() []goal.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]goal.Message(nil), c.messages...)
}

func (c *Conversation) Message(id string) (goal.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.messageIndex(id); i >= 0 {
		return c.messages[i], true
	}
	return goal.Message{}, false
}

// Goals returns a copy of the live goal set in order.
func (c *Conversation) Goals() []goal.Goal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneGoals(c.goals)
}

func (c *Conversation) Retired() []goal.Goal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneGoals(c.retired)
}

func (c *Conversation) Goal(id string) (goal.Goal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := c.goalIndex(id)
	if i < 0 {
		return goal.Goal{}, fmt.Errorf("%w: %s", ErrGoalNotFound, id)
	}
	return c.goals[i].Clone(), nil
}

func (c *Conversation) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		ID:       c.id,
		Messages: append([]goal.Message(nil), c.messages...),
		Goals:    cloneGoals(c.goals),
		Retired:  cloneGoals(c.retired),
		Settings: c.settings,
	}
}

// Reset drops messages and goals but keeps the pipeline settings.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.goals = nil
	c.retired = nil
	c.awaiting = ""
	c.open = ""
}

func (c *Conversation) messageIndex(id string) int {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Conversation) goalIndex(id string) int {
	for i := range c.goals {
		if c.goals[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneGoals(in []goal.Goal) []goal.Goal {
	out := make([]goal.Goal, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

func normalize(text string) (string, error) {
	t := goal.NormalizeText(text)
	if strings.TrimSpace(t) == "" {
		return "", errors.New("goal text is empty")
	}
	return t, nil
}
