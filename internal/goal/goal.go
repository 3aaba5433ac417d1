package goal

import (
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypeQuestion   Type = "question"
	TypeRequest    Type = "request"
	TypeOffer      Type = "offer"
	TypeSuggestion Type = "suggestion"
)

// ParseType accepts any casing and surrounding whitespace.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeQuestion, TypeRequest, TypeOffer, TypeSuggestion:
		return t, nil
	}
	return "", fmt.Errorf("unknown goal type %q", s)
}

type Status string

const (
	StatusOpen         Status = "open"
	StatusConfirmed    Status = "confirmed"
	StatusContradicted Status = "contradicted"
	StatusIgnored      Status = "ignored"
	StatusCompleted    Status = "completed"
)

type Category string

const (
	CategoryConfirm    Category = "confirm"
	CategoryContradict Category = "contradict"
	CategoryIgnore     Category = "ignore"
)

// ParseCategory falls back to ignore for anything unrecognized.
func ParseCategory(s string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryConfirm, CategoryContradict:
		return c
	}
	return CategoryIgnore
}

// Status returns the goal status an evaluation category maps to.
func (c Category) Status() Status {
	switch c {
	case CategoryConfirm:
		return StatusConfirmed
	case CategoryContradict:
		return StatusContradicted
	}
	return StatusIgnored
}

type Evaluation struct {
	GoalID      string    `json:"goal_id"`
	Category    Category  `json:"category"`
	Explanation string    `json:"explanation"`
	Examples    []string  `json:"examples,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	At          time.Time `json:"at"`
}

type Goal struct {
	ID              string      `json:"id"`
	Type            Type        `json:"type"`
	Text            string      `json:"text"`
	Summary         string      `json:"summary,omitempty"`
	SourceMessageID string      `json:"source_message_id"`
	Status          Status      `json:"status"`
	Locked          bool        `json:"locked"`
	Evaluation      *Evaluation `json:"evaluation,omitempty"`
	Supersedes      string      `json:"supersedes,omitempty"`
	SupersededBy    string      `json:"superseded_by,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Clone copies the goal including its evaluation record.
func (g Goal) Clone() Goal {
	if g.Evaluation != nil {
		ev := *g.Evaluation
		ev.Examples = append([]string(nil), g.Evaluation.Examples...)
		g.Evaluation = &ev
	}
	return g
}

// Active reports whether evaluation results may change the goal status.
func (g Goal) Active() bool {
	return g.Status != StatusCompleted && g.SupersededBy == ""
}

// CandidateGoal is inference output before merge assigns it an id.
type CandidateGoal struct {
	Type    Type   `json:"type"`
	Text    string `json:"text"`
	Summary string `json:"summary,omitempty"`
}

// NormalizeText collapses whitespace so equal statements compare equal.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Key is the comparison form used for exact-duplicate detection.
func Key(t Type, text string) string {
	k := strings.ToLower(NormalizeText(text))
	k = strings.TrimRight(k, ".?!;, ")
	return string(t) + "|" + k
}
