package pipeline

import (
	"context"
	"errors"
	"strings"

	"ongoal/internal/goal"
	"ongoal/internal/logger"
)

// Completer is the part of the LLM gateway the stages need.
type Completer interface {
	Complete(ctx context.Context, prompt string, schema any, out any) error
}

type inferClause struct {
	Clause  string `json:"clause"`
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

type inferResponse struct {
	Clauses []inferClause `json:"clauses"`
}

func (r *inferResponse) Validate() error {
	if r.Clauses == nil {
		return errors.New("missing clauses")
	}
	return nil
}

// Inferrer extracts candidate goals from a user message.
type Inferrer struct {
	llm Completer
}

func NewInferrer(llm Completer) *Inferrer {
	return &Inferrer{llm: llm}
}

// Infer returns the candidate goals stated in text. history is context only.
// On gateway failure it returns no candidates and a *StageError.
func (in *Inferrer) Infer(ctx context.Context, text string, history []goal.Message) ([]goal.CandidateGoal, error) {
	if strings.TrimSpace(text) == "" {
		return []goal.CandidateGoal{}, nil
	}

	var resp inferResponse
	if err := in.llm.Complete(ctx, buildInferPrompt(text, history), inferSchema, &resp); err != nil {
		return []goal.CandidateGoal{}, stageErr(goal.StageInfer, err)
	}

	out := make([]goal.CandidateGoal, 0, len(resp.Clauses))
	for _, c := range resp.Clauses {
		typ, err := goal.ParseType(c.Type)
		if err != nil {
			logger.Log.Debugw("dropping clause", "clause", c.Clause, "error", err)
			continue
		}
		t := goal.NormalizeText(c.Clause)
		if t == "" {
			logger.Log.Debugw("dropping empty clause", "type", c.Type)
			continue
		}
		out = append(out, goal.CandidateGoal{
			Type:    typ,
			Text:    t,
			Summary: strings.TrimSpace(c.Summary),
		})
	}
	return out, nil
}
