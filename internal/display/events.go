package display

import (
	"fmt"
	"strings"

	"ongoal/internal/events"
	"ongoal/internal/goal"
)

// FormatEvent renders a pipeline event as a status line. Response chunks
// return the empty string; callers print the streamed text themselves.
func FormatEvent(ev events.Event) string {
	switch d := ev.Data.(type) {
	case events.GoalsInferred:
		if len(d.Candidates) == 0 {
			return "[infer] no goals found"
		}
		parts := make([]string, 0, len(d.Candidates))
		for _, c := range d.Candidates {
			parts = append(parts, fmt.Sprintf("%s: %s", c.Type, truncate(c.Text, maxValueLength)))
		}
		return fmt.Sprintf("[infer] %d candidate(s): %s", len(d.Candidates), strings.Join(parts, "; "))

	case events.GoalsUpdated:
		return fmt.Sprintf("[merge] %s", FormatOperations(d.Operations))

	case events.GoalsEvaluated:
		counts := map[goal.Category]int{}
		for _, e := range d.Evaluations {
			counts[e.Category]++
		}
		return fmt.Sprintf("[evaluate] confirmed=%d contradicted=%d ignored=%d",
			counts[goal.CategoryConfirm], counts[goal.CategoryContradict], counts[goal.CategoryIgnore])

	case events.PipelineToggled:
		state := "off"
		if d.Enabled {
			state = "on"
		}
		return fmt.Sprintf("[pipeline] %s %s", d.Stage, state)

	case events.Error:
		if d.Kind != "" {
			return fmt.Sprintf("[%s FAILED] %s: %s", d.Stage, d.Kind, d.Message)
		}
		return fmt.Sprintf("[%s FAILED] %s", d.Stage, d.Message)

	case events.GoalChanged:
		return "[goal] " + FormatGoal(d.Goal)

	case events.GoalDeleted:
		return fmt.Sprintf("[goal] %s deleted", ShortID(d.GoalID))

	case events.ResponseChunk:
		return ""

	case events.ResponseComplete:
		return fmt.Sprintf("[reply %s complete]", d.MessageID)
	}
	return fmt.Sprintf("[%s]", ev.Type)
}

// FormatOperations summarizes merge operations by kind.
func FormatOperations(ops []goal.Operation) string {
	if len(ops) == 0 {
		return "no changes"
	}
	order := []goal.OperationKind{goal.OpCreate, goal.OpUpdate, goal.OpSupersede, goal.OpNoop, goal.OpNoopLocked}
	counts := map[goal.OperationKind]int{}
	for _, op := range ops {
		counts[op.Kind]++
	}
	var parts []string
	for _, k := range order {
		if n := counts[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", k, n))
		}
	}
	return strings.Join(parts, " ")
}
