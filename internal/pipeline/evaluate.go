package pipeline

import (
	"context"
	"errors"
	"strings"

	"ongoal/internal/goal"
	"ongoal/internal/logger"
)

type evaluationItem struct {
	GoalID      string   `json:"goal_id"`
	Category    string   `json:"category"`
	Explanation string   `json:"explanation"`
	Examples    []string `json:"examples"`
}

type evaluateResponse struct {
	Evaluations []evaluationItem `json:"evaluations"`
}

func (r *evaluateResponse) Validate() error {
	if r.Evaluations == nil {
		return errors.New("missing evaluations")
	}
	return nil
}

// Evaluator judges a completed assistant response against the goal set.
type Evaluator struct {
	llm Completer
}

func NewEvaluator(llm Completer) *Evaluator {
	return &Evaluator{llm: llm}
}

// Evaluate returns one evaluation per goal, in goal order. Goals the model
// leaves out are ignored; ids it invents are dropped.
func (e *Evaluator) Evaluate(ctx context.Context, response string, goals []goal.Goal) ([]goal.Evaluation, error) {
	if len(goals) == 0 {
		return []goal.Evaluation{}, nil
	}

	var resp evaluateResponse
	if err := e.llm.Complete(ctx, buildEvaluatePrompt(response, goals), evaluateSchema, &resp); err != nil {
		return []goal.Evaluation{}, stageErr(goal.StageEvaluate, err)
	}

	byID := make(map[string]evaluationItem, len(resp.Evaluations))
	for _, item := range resp.Evaluations {
		id := strings.Trim(strings.TrimSpace(item.GoalID), "[]")
		if _, seen := byID[id]; seen {
			continue
		}
		byID[id] = item
	}

	out := make([]goal.Evaluation, 0, len(goals))
	for _, g := range goals {
		item, ok := byID[g.ID]
		if !ok {
			out = append(out, goal.Evaluation{GoalID: g.ID, Category: goal.CategoryIgnore})
			continue
		}
		delete(byID, g.ID)
		examples := make([]string, 0, len(item.Examples))
		for _, ex := range item.Examples {
			if ex = strings.TrimSpace(ex); ex != "" {
				examples = append(examples, ex)
			}
		}
		out = append(out, goal.Evaluation{
			GoalID:      g.ID,
			Category:    goal.ParseCategory(item.Category),
			Explanation: strings.TrimSpace(item.Explanation),
			Examples:    examples,
		})
	}
	for id := range byID {
		logger.Log.Debugw("dropping evaluation for unknown goal", "goal_id", id)
	}
	return out, nil
}
