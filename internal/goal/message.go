package goal

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// Goal ids attributed to a user message by merge.
	Goals    []string `json:"goals,omitempty"`
	Complete bool     `json:"complete"`
}

type Stage string

const (
	StageInfer    Stage = "infer"
	StageMerge    Stage = "merge"
	StageEvaluate Stage = "evaluate"
)

func ParseStage(s string) (Stage, bool) {
	switch st := Stage(s); st {
	case StageInfer, StageMerge, StageEvaluate:
		return st, true
	}
	return "", false
}

// Settings switches pipeline stages for subsequent turns.
type Settings struct {
	Infer    bool `json:"infer" yaml:"infer"`
	Merge    bool `json:"merge" yaml:"merge"`
	Evaluate bool `json:"evaluate" yaml:"evaluate"`
}

func DefaultSettings() Settings {
	return Settings{Infer: true, Merge: true, Evaluate: true}
}

func (s Settings) Enabled(st Stage) bool {
	switch st {
	case StageInfer:
		return s.Infer
	case StageMerge:
		return s.Merge
	case StageEvaluate:
		return s.Evaluate
	}
	return false
}

func (s *Settings) Set(st Stage, enabled bool) {
	switch st {
	case StageInfer:
		s.Infer = enabled
	case StageMerge:
		s.Merge = enabled
	case StageEvaluate:
		s.Evaluate = enabled
	}
}
