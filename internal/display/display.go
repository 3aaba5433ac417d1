package display

import (
	"fmt"
	"strings"

	"ongoal/internal/goal"
)

const maxValueLength = 100

// FormatGoals renders the live goal list for the terminal.
func FormatGoals(goals []goal.Goal) string {
	if len(goals) == 0 {
		return "No goals yet."
	}
	var sb strings.Builder
	sb.WriteString("Goals:\n")
	sb.WriteString("--------------------------------------------------\n")
	for i, g := range goals {
		sb.WriteString(fmt.Sprintf("%2d. %s\n", i+1, FormatGoal(g)))
		if g.Evaluation != nil && g.Evaluation.Explanation != "" {
			sb.WriteString(fmt.Sprintf("      %s\n", truncate(g.Evaluation.Explanation, maxValueLength)))
		}
		for _, ex := range exampleLines(g) {
			sb.WriteString(fmt.Sprintf("      > %s\n", ex))
		}
	}
	sb.WriteString("--------------------------------------------------")
	return sb.String()
}

// FormatGoal renders one goal on a single line.
func FormatGoal(g goal.Goal) string {
	flags := ""
	if g.Locked {
		flags = " [locked]"
	}
	return fmt.Sprintf("[%s] %-10s %-12s %s%s",
		ShortID(g.ID), "("+string(g.Type)+")", string(g.Status), truncate(g.Text, maxValueLength), flags)
}

// ShortID is the prefix shown for goal ids; the CLI accepts any unique prefix.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func exampleLines(g goal.Goal) []string {
	if g.Evaluation == nil {
		return nil
	}
	out := make([]string, 0, len(g.Evaluation.Examples))
	for _, ex := range g.Evaluation.Examples {
		out = append(out, truncate(ex, maxValueLength))
	}
	return out
}

func truncate(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	if limit >= 0 && len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
