package pipeline

import (
	"fmt"
	"strings"

	"ongoal/internal/goal"
)

// Prompt headers. Each prompt starts with one so logs and test fakes can tell
// the stages apart.
const (
	inferHeader    = "You will be presented with human dialogue in a conversation with you, an assistant."
	mergeHeader    = "You maintain the list of conversational goals a human has given an assistant."
	evaluateHeader = "You will be presented with a response from you, an assistant, and the conversational goals of the human."
)

// Prompt for extracting goal clauses from the newest user message
func buildInferPrompt(text string, history []goal.Message) string {
	var sb strings.Builder

	sb.WriteString(inferHeader + " ")
	sb.WriteString("Your task is to extract every clause from the newest human message verbatim, exactly as it appears.\n\n")
	sb.WriteString("List all clauses that are either a question, request, offer, or suggestion. ")
	sb.WriteString("Briefly summarize how to address the goal of the clause in ONE sentence.\n")
	sb.WriteString("Respond ONLY with JSON. No extra text.\n\n")

	sb.WriteString("OUTPUT JSON SCHEMA:\n")
	sb.WriteString("{\"clauses\": [{\"clause\": \"<verbatim clause>\", \"type\": \"question|request|offer|suggestion\", \"summary\": \"<one sentence>\"}]}\n\n")

	if len(history) > 0 {
		sb.WriteString("CONVERSATION HISTORY (context only, do not extract from it):\n")
		for _, m := range history {
			sb.WriteString(fmt.Sprintf("%s: %s\n", roleLabel(m.Role), oneLine(m.Content)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("Human dialogue: %s\n", text))
	return sb.String()
}

// Prompt for folding new candidates into the live goal set. Existing goals are
// labelled G1..Gn and candidates C1..Cn.
func buildMergePrompt(pending []int, candidates []goal.CandidateGoal, existing []goal.Goal) string {
	var sb strings.Builder

	sb.WriteString(mergeHeader + " ")
	sb.WriteString("Decide, for every NEW candidate goal, how it changes the EXISTING goals.\n")
	sb.WriteString("Respond ONLY with JSON. No extra text.\n\n")

	sb.WriteString("EXISTING GOALS:\n")
	if len(existing) == 0 {
		sb.WriteString("(none)\n")
	}
	for i, g := range existing {
		lock := ""
		if g.Locked {
			lock = " [locked]"
		}
		sb.WriteString(fmt.Sprintf("G%d (%s)%s: %s\n", i+1, g.Type, lock, oneLine(g.Text)))
	}

	sb.WriteString("\nNEW CANDIDATE GOALS:\n")
	for _, idx := range pending {
		c := candidates[idx]
		sb.WriteString(fmt.Sprintf("C%d (%s): %s\n", idx+1, c.Type, oneLine(c.Text)))
	}

	sb.WriteString("\nOUTPUT JSON SCHEMA:\n")
	sb.WriteString("{\"decisions\": [{\"candidate\": \"C<n>\", \"operation\": \"create|update|supersede|noop\", \"target\": \"G<n>, C<n> or empty\", \"text\": \"<resulting goal text>\"}]}\n\n")

	sb.WriteString("OPERATIONS:\n")
	sb.WriteString("- create: the candidate is unrelated to every existing goal. Leave target empty.\n")
	sb.WriteString("- update: the candidate is compatible with the target and refines it. Put the COMBINED goal in text.\n")
	sb.WriteString("- supersede: the candidate contradicts the target, directly or semantically (\"short simple story\" vs \"complex detailed plot\"). Put the candidate goal in text.\n")
	sb.WriteString("- noop: the candidate says nothing the target does not already say.\n\n")

	sb.WriteString("HARD RULES:\n")
	sb.WriteString("1) Give exactly one decision per candidate.\n")
	sb.WriteString("2) A target is an existing goal (G<n>) or an EARLIER candidate (C<n> with a smaller number).\n")
	sb.WriteString("3) Existing goals not mentioned are kept unchanged; never drop them.\n")
	sb.WriteString("4) Goals marked [locked] must not be updated or superseded.\n")
	return sb.String()
}

// Prompt for judging one completed response against every live goal
func buildEvaluatePrompt(response string, goals []goal.Goal) string {
	var sb strings.Builder

	sb.WriteString(evaluateHeader + " ")
	sb.WriteString("Your task is to evaluate how the assistant response addresses each goal.\n\n")
	sb.WriteString("Categorize each goal as confirm, contradict, or ignore. ")
	sb.WriteString("Explain the relationship between the response and the goal in ONE sentence. ")
	sb.WriteString("Extract clauses verbatim from the response, exactly as they appear, as examples that support your explanation.\n")
	sb.WriteString("Respond ONLY with JSON. No extra text.\n\n")

	sb.WriteString("GOALS:\n")
	for _, g := range goals {
		sb.WriteString(fmt.Sprintf("[%s] (%s): %s\n", g.ID, g.Type, oneLine(g.Text)))
	}

	sb.WriteString("\nOUTPUT JSON SCHEMA:\n")
	sb.WriteString("{\"evaluations\": [{\"goal_id\": \"<id in brackets>\", \"category\": \"confirm|contradict|ignore\", \"explanation\": \"<one sentence>\", \"examples\": [\"<verbatim clause>\"]}]}\n\n")

	sb.WriteString(fmt.Sprintf("Assistant response: %s\n", response))
	return sb.String()
}

func roleLabel(r goal.Role) string {
	if r == goal.RoleAssistant {
		return "Assistant"
	}
	return "Human"
}

func oneLine(s string) string {
	return goal.NormalizeText(s)
}

var inferSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"clauses": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"clause":  map[string]any{"type": "string"},
					"type":    map[string]any{"type": "string", "enum": []string{"question", "request", "offer", "suggestion"}},
					"summary": map[string]any{"type": "string"},
				},
				"required": []string{"clause", "type"},
			},
		},
	},
	"required": []string{"clauses"},
}

var mergeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"decisions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"candidate": map[string]any{"type": "string"},
					"operation": map[string]any{"type": "string", "enum": []string{"create", "update", "supersede", "noop"}},
					"target":    map[string]any{"type": "string"},
					"text":      map[string]any{"type": "string"},
				},
				"required": []string{"candidate", "operation"},
			},
		},
	},
	"required": []string{"decisions"},
}

var evaluateSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"evaluations": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"goal_id":     map[string]any{"type": "string"},
					"category":    map[string]any{"type": "string", "enum": []string{"confirm", "contradict", "ignore"}},
					"explanation": map[string]any{"type": "string"},
					"examples":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
				"required": []string{"goal_id", "category"},
			},
		},
	},
	"required": []string{"evaluations"},
}
