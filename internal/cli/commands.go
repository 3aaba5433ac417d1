package cli

import (
	"errors"
	"fmt"
	"strings"

	"ongoal/internal/display"
	"ongoal/internal/goal"
	"ongoal/internal/supervisor"
)

var errQuit = errors.New("quit")

const helpText = `Commands:
  /goals                  list the current goals
  /add <type> <text>      add a goal (question, request, offer, suggestion)
  /edit <id> <text>       replace a goal's text
  /delete <id>            delete a goal
  /lock <id>, /unlock <id>
  /done <id>, /undone <id>
  /toggle <stage>         turn infer, merge or evaluate on or off
  /reset                  clear the conversation
  /exit                   quit
Goal ids may be shortened to any unique prefix.`

// commander runs slash commands against one conversation.
type commander struct {
	sup     *supervisor.Supervisor
	convID  string
	confirm func(question string) bool
}

// run executes one slash command and returns the text to print. errQuit
// asks the caller to stop reading input.
func (c *commander) run(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "/help", "/?":
		return helpText, nil

	case "/exit", "/quit":
		return "", errQuit

	case "/goals":
		snap, err := c.sup.Snapshot(c.convID)
		if err != nil {
			return "", err
		}
		return display.FormatGoals(snap.Goals), nil

	case "/add":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: /add <type> <text>")
		}
		typ, err := goal.ParseType(args[0])
		if err != nil {
			return "", err
		}
		g, err := c.sup.CreateGoal(c.convID, typ, strings.Join(args[1:], " "), "")
		if err != nil {
			return "", err
		}
		return "Added " + display.FormatGoal(g), nil

	case "/edit":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: /edit <id> <text>")
		}
		id, err := c.resolve(args[0])
		if err != nil {
			return "", err
		}
		g, err := c.sup.UpdateGoalText(c.convID, id, strings.Join(args[1:], " "))
		if err != nil {
			return "", err
		}
		return "Updated " + display.FormatGoal(g), nil

	case "/delete":
		id, err := c.goalArg(name, args)
		if err != nil {
			return "", err
		}
		if err := c.sup.DeleteGoal(c.convID, id); err != nil {
			return "", err
		}
		return "Deleted " + display.ShortID(id), nil

	case "/lock", "/unlock":
		id, err := c.goalArg(name, args)
		if err != nil {
			return "", err
		}
		g, err := c.sup.SetGoalLocked(c.convID, id, name == "/lock")
		if err != nil {
			return "", err
		}
		return display.FormatGoal(g), nil

	case "/done", "/undone":
		id, err := c.goalArg(name, args)
		if err != nil {
			return "", err
		}
		g, err := c.sup.SetGoalCompleted(c.convID, id, name == "/done")
		if err != nil {
			return "", err
		}
		return display.FormatGoal(g), nil

	case "/toggle":
		if len(args) != 1 {
			return "", fmt.Errorf("usage: /toggle <infer|merge|evaluate>")
		}
		st, ok := goal.ParseStage(strings.ToLower(args[0]))
		if !ok {
			return "", fmt.Errorf("unknown stage %q", args[0])
		}
		snap, err := c.sup.Snapshot(c.convID)
		if err != nil {
			return "", err
		}
		settings, err := c.sup.SetPipelineStage(c.convID, st, !snap.Settings.Enabled(st))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Pipeline: infer=%v merge=%v evaluate=%v", settings.Infer, settings.Merge, settings.Evaluate), nil

	case "/reset":
		if c.confirm != nil && !c.confirm("Clear all messages and goals?") {
			return "Reset cancelled.", nil
		}
		if err := c.sup.Reset(c.convID); err != nil {
			return "", err
		}
		return "Conversation reset.", nil
	}
	return "", fmt.Errorf("unknown command %s, try /help", name)
}

func (c *commander) goalArg(name string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: %s <id>", name)
	}
	return c.resolve(args[0])
}

// resolve expands a goal id prefix against the live goals.
func (c *commander) resolve(prefix string) (string, error) {
	snap, err := c.sup.Snapshot(c.convID)
	if err != nil {
		return "", err
	}
	var match string
	for _, g := range snap.Goals {
		if g.ID == prefix {
			return g.ID, nil
		}
		if strings.HasPrefix(g.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("goal id %q is ambiguous", prefix)
			}
			match = g.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no goal matches %q", prefix)
	}
	return match, nil
}
