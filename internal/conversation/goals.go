package conversation

import (
	"fmt"

	"ongoal/internal/goal"
)

// ApplyMerge makes a merge result authoritative. Operations are replayed on
// the current goal set rather than copied over it, so human overrides made
// while the merge was computed still hold: a target locked in the meantime
// turns the operation into noop_locked, a deleted target turns it into a
// create. The returned result describes the goal set as it now stands.
func (c *Conversation) ApplyMerge(messageID string, res goal.MergeResult) goal.MergeResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	payload := make(map[string]goal.Goal, len(res.Goals)+len(res.Retired))
	for _, g := range res.Retired {
		payload[g.ID] = g
	}
	for _, g := range res.Goals {
		payload[g.ID] = g
	}

	out := goal.MergeResult{Operations: make([]goal.Operation, 0, len(res.Operations))}
	now := c.now()
	// Goals recreated because their target vanished, keyed by the old id.
	remap := make(map[string]string)

	for _, op := range res.Operations {
		if id, ok := remap[op.TargetID]; ok {
			op.TargetID = id
			if op.Kind == goal.OpUpdate || op.Kind == goal.OpNoop || op.Kind == goal.OpNoopLocked {
				op.GoalID = id
			}
		}
		switch op.Kind {
		case goal.OpCreate:
			g, ok := payload[op.GoalID]
			if !ok || c.goalIndex(g.ID) >= 0 {
				continue
			}
			g.SupersededBy = ""
			c.goals = append(c.goals, g.Clone())

		case goal.OpUpdate:
			i := c.goalIndex(op.TargetID)
			switch {
			case i < 0:
				old := op.TargetID
				op = c.recreate(op, payload[op.GoalID])
				remap[old] = op.GoalID
			case c.goals[i].Locked:
				op = lockedNoop(op)
			default:
				c.goals[i].Text = op.Text
				c.goals[i].SourceMessageID = messageID
				if p, ok := payload[op.GoalID]; ok && p.Summary != "" {
					c.goals[i].Summary = p.Summary
				}
				c.goals[i].UpdatedAt = now
			}

		case goal.OpSupersede:
			i := c.goalIndex(op.TargetID)
			next, ok := payload[op.GoalID]
			if !ok {
				continue
			}
			switch {
			case i < 0:
				next.Supersedes = ""
				next.SupersededBy = ""
				c.goals = append(c.goals, next.Clone())
				op.Kind = goal.OpCreate
				op.TargetID = ""
				op.Reason = "target removed"
			case c.goals[i].Locked:
				op = lockedNoop(op)
			default:
				old := c.goals[i]
				old.SupersededBy = next.ID
				old.UpdatedAt = now
				c.goals = append(c.goals[:i], c.goals[i+1:]...)
				c.retired = append(c.retired, old)
				out.Retired = append(out.Retired, old.Clone())

				next.SupersededBy = ""
				next.Supersedes = old.ID
				c.goals = append(c.goals, next.Clone())
			}

		case goal.OpNoop, goal.OpNoopLocked:
			target := op.TargetID
			if target == "" {
				target = op.GoalID
			}
			if target == "" || c.goalIndex(target) >= 0 {
				break
			}
			// The matched goal was deleted meanwhile; keep the candidate.
			op.Text = ""
			op = c.recreate(op, goal.Goal{
				Type:            op.Candidate.Type,
				Text:            goal.NormalizeText(op.Candidate.Text),
				Summary:         op.Candidate.Summary,
				SourceMessageID: messageID,
			})
			remap[target] = op.GoalID
		}
		out.Operations = append(out.Operations, op)
	}

	if i := c.messageIndex(messageID); i >= 0 {
		ids := make([]string, 0, len(out.Operations))
		seen := make(map[string]bool)
		for _, op := range out.Operations {
			if op.GoalID != "" && !seen[op.GoalID] {
				seen[op.GoalID] = true
				ids = append(ids, op.GoalID)
			}
		}
		c.messages[i].Goals = ids
	}

	out.Goals = cloneGoals(c.goals)
	return out
}

func (c *Conversation) recreate(op goal.Operation, from goal.Goal) goal.Operation {
	g := from
	g.ID = c.newID()
	g.Supersedes = ""
	g.SupersededBy = ""
	g.Status = goal.StatusOpen
	g.Locked = false
	g.Evaluation = nil
	if op.Text != "" {
		g.Text = op.Text
	}
	if g.Text == "" {
		g.Text = op.Candidate.Text
		g.Type = op.Candidate.Type
	}
	g.CreatedAt = c.now()
	g.UpdatedAt = g.CreatedAt
	c.goals = append(c.goals, g)

	op.Kind = goal.OpCreate
	op.GoalID = g.ID
	op.TargetID = ""
	op.Reason = "target removed"
	return op
}

func lockedNoop(op goal.Operation) goal.Operation {
	op.Kind = goal.OpNoopLocked
	op.GoalID = op.TargetID
	op.Text = ""
	op.Reason = goal.ReasonLockedConflict
	return op
}

// ApplyEvaluations records evaluations against live goals. Only Status and
// Evaluation change, and a completed goal keeps its status.
func (c *Conversation) ApplyEvaluations(messageID string, evals []goal.Evaluation) []goal.Evaluation {
	c.mu.Lock()
	defer c.mu.Unlock()

	applied := make([]goal.Evaluation, 0, len(evals))
	now := c.now()
	for _, ev := range evals {
		i := c.goalIndex(ev.GoalID)
		if i < 0 {
			continue
		}
		ev.MessageID = messageID
		if ev.At.IsZero() {
			ev.At = now
		}
		rec := ev
		rec.Examples = append([]string(nil), ev.Examples...)
		c.goals[i].Evaluation = &rec
		if c.goals[i].Status != goal.StatusCompleted {
			c.goals[i].Status = ev.Category.Status()
		}
		c.goals[i].UpdatedAt = now
		applied = append(applied, ev)
	}
	return applied
}

func (c *Conversation) SetLocked(id string, locked bool) (goal.Goal, error) {
	return c.mutate(id, func(g *goal.Goal) {
		g.Locked = locked
	})
}

// SetCompleted marks a goal done, or reopens it to the status its last
// evaluation implies.
func (c *Conversation) SetCompleted(id string, completed bool) (goal.Goal, error) {
	return c.mutate(id, func(g *goal.Goal) {
		switch {
		case completed:
			g.Status = goal.StatusCompleted
		case g.Status != goal.StatusCompleted:
		case g.Evaluation != nil:
			g.Status = g.Evaluation.Category.Status()
		default:
			g.Status = goal.StatusOpen
		}
	})
}

func (c *Conversation) UpdateGoalText(id, text string) (goal.Goal, error) {
	t, err := normalize(text)
	if err != nil {
		return goal.Goal{}, err
	}
	return c.mutate(id, func(g *goal.Goal) {
		g.Text = t
	})
}

// CreateGoal adds a goal by hand, outside the pipeline.
func (c *Conversation) CreateGoal(typ goal.Type, text, sourceMessageID string) (goal.Goal, error) {
	t, err := normalize(text)
	if err != nil {
		return goal.Goal{}, err
	}
	if _, err := goal.ParseType(string(typ)); err != nil {
		return goal.Goal{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	g := goal.Goal{
		ID:              c.newID(),
		Type:            typ,
		Text:            t,
		SourceMessageID: sourceMessageID,
		Status:          goal.StatusOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	c.goals = append(c.goals, g)
	return g.Clone(), nil
}

func (c *Conversation) DeleteGoal(id string) (goal.Goal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.goalIndex(id)
	if i < 0 {
		return goal.Goal{}, fmt.Errorf("%w: %s", ErrGoalNotFound, id)
	}
	g := c.goals[i]
	c.goals = append(c.goals[:i], c.goals[i+1:]...)
	return g, nil
}

func (c *Conversation) mutate(id string, fn func(*goal.Goal)) (goal.Goal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.goalIndex(id)
	if i < 0 {
		return goal.Goal{}, fmt.Errorf("%w: %s", ErrGoalNotFound, id)
	}
	fn(&c.goals[i])
	c.goals[i].UpdatedAt = c.now()
	return c.goals[i].Clone(), nil
}
