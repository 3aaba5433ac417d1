package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ongoal/internal/goal"
	"ongoal/internal/logger"
)

const (
	StrategyLLM   = "llm"
	StrategyRules = "rules"

	DefaultSimilarity = 0.6
)

type mergeDecision struct {
	Candidate string `json:"candidate"`
	Operation string `json:"operation"`
	Target    string `json:"target"`
	Text      string `json:"text"`
}

type mergeResponse struct {
	Decisions []mergeDecision `json:"decisions"`
}

func (r *mergeResponse) Validate() error {
	if r.Decisions == nil {
		return errors.New("missing decisions")
	}
	return nil
}

// decision is a parsed mergeDecision for one candidate.
type decision struct {
	kind   goal.OperationKind
	target string
	text   string
}

// Merger folds candidate goals into an existing goal set. Merge never touches
// conversation state; the caller applies the result.
type Merger struct {
	llm        Completer
	strategy   string
	similarity float64

	newID func() string
	now   func() time.Time
}

func NewMerger(llm Completer, strategy string, similarity float64) *Merger {
	if strategy == "" {
		strategy = StrategyLLM
	}
	if similarity <= 0 || similarity > 1 {
		similarity = DefaultSimilarity
	}
	return &Merger{
		llm:        llm,
		strategy:   strategy,
		similarity: similarity,
		newID:      func() string { return uuid.New().String() },
		now:        time.Now,
	}
}

// Merge returns the authoritative goal set after folding candidates, in
// order, into existing. On gateway failure every non-duplicate candidate is
// created and a *StageError is returned with the degraded result.
func (m *Merger) Merge(ctx context.Context, candidates []goal.CandidateGoal, existing []goal.Goal, sourceMessageID string) (goal.MergeResult, error) {
	s := newMergeState(existing, m.now(), m.newID, sourceMessageID)

	// Exact duplicates never reach the model.
	dupGoal := make(map[int]string)
	dupCand := make(map[int]int)
	keys := make(map[string]string, len(existing))
	for _, g := range existing {
		keys[goal.Key(g.Type, g.Text)] = g.ID
	}
	candKeys := make(map[string]int)
	var pending []int
	for i, c := range candidates {
		k := goal.Key(c.Type, c.Text)
		if id, ok := keys[k]; ok {
			dupGoal[i] = id
			continue
		}
		if j, ok := candKeys[k]; ok {
			dupCand[i] = j
			continue
		}
		candKeys[k] = i
		pending = append(pending, i)
	}

	var decisions map[int]decision
	var err error
	switch {
	case len(pending) == 0:
	case m.strategy == StrategyRules:
		decisions = m.decideByOverlap(pending, candidates, existing)
	case len(existing) > 0 || len(pending) > 1:
		decisions, err = m.decideByModel(ctx, pending, candidates, existing)
		if err != nil {
			logger.Log.Warnw("merge degraded to pass-through", "message_id", sourceMessageID, "error", err)
			decisions = nil
		}
	}

	for i, c := range candidates {
		op := goal.Operation{Index: i, Candidate: c}
		switch {
		case dupGoal[i] != "":
			op = s.noop(op, s.resolveID(dupGoal[i]), "duplicate")
		case isDupCand(dupCand, i):
			op = s.noop(op, s.resolveID(s.produced[dupCand[i]]), "duplicate")
		default:
			d, ok := decisions[i]
			if !ok {
				d = decision{kind: goal.OpCreate}
			}
			op = s.apply(op, d)
		}
		s.produced[i] = op.GoalID
		s.ops = append(s.ops, op)
	}

	return goal.MergeResult{Goals: s.live, Retired: s.retired, Operations: s.ops}, stageErr(goal.StageMerge, err)
}

func isDupCand(m map[int]int, i int) bool {
	_, ok := m[i]
	return ok
}

func (m *Merger) decideByModel(ctx context.Context, pending []int, candidates []goal.CandidateGoal, existing []goal.Goal) (map[int]decision, error) {
	var resp mergeResponse
	if err := m.llm.Complete(ctx, buildMergePrompt(pending, candidates, existing), mergeSchema, &resp); err != nil {
		return nil, err
	}

	isPending := make(map[int]bool, len(pending))
	for _, i := range pending {
		isPending[i] = true
	}
	out := make(map[int]decision, len(resp.Decisions))
	for _, d := range resp.Decisions {
		n, ok := parseLabel(d.Candidate, "C")
		if !ok || !isPending[n-1] {
			logger.Log.Debugw("ignoring merge decision for unknown candidate", "candidate", d.Candidate)
			continue
		}
		if _, seen := out[n-1]; seen {
			continue
		}
		kind, ok := parseOperation(d.Operation)
		if !ok {
			logger.Log.Debugw("unknown merge operation, creating", "candidate", d.Candidate, "operation", d.Operation)
			kind = goal.OpCreate
		}
		target := strings.TrimSpace(d.Target)
		if g, ok := parseLabel(target, "G"); ok && g <= len(existing) {
			target = existing[g-1].ID
		}
		out[n-1] = decision{kind: kind, target: target, text: d.Text}
	}
	return out, nil
}

// decideByOverlap matches each candidate to the most similar live goal or
// earlier candidate by word overlap.
func (m *Merger) decideByOverlap(pending []int, candidates []goal.CandidateGoal, existing []goal.Goal) map[int]decision {
	out := make(map[int]decision, len(pending))
	for n, i := range pending {
		c := candidates[i]
		best, target := 0.0, ""
		for _, g := range existing {
			if sim := jaccard(c.Text, g.Text); sim > best {
				best, target = sim, g.ID
			}
		}
		for _, j := range pending[:n] {
			if sim := jaccard(c.Text, candidates[j].Text); sim > best {
				best, target = sim, "C"+strconv.Itoa(j+1)
			}
		}
		if best >= m.similarity {
			out[i] = decision{kind: goal.OpUpdate, target: target, text: c.Text}
		} else {
			out[i] = decision{kind: goal.OpCreate}
		}
	}
	return out
}

// mergeState is the goal set being built by one merge pass.
type mergeState struct {
	live     []goal.Goal
	retired  []goal.Goal
	ops      []goal.Operation
	produced map[int]string
	// replaced maps a goal retired in this pass to its successor.
	replaced map[string]string

	now       time.Time
	newID     func() string
	messageID string
}

func newMergeState(existing []goal.Goal, now time.Time, newID func() string, messageID string) *mergeState {
	live := make([]goal.Goal, len(existing))
	for i := range existing {
		live[i] = existing[i].Clone()
	}
	return &mergeState{
		live:      live,
		produced:  make(map[int]string),
		replaced:  make(map[string]string),
		now:       now,
		newID:     newID,
		messageID: messageID,
	}
}

// resolveID follows supersede links made earlier in the pass.
func (s *mergeState) resolveID(id string) string {
	for i := 0; i < len(s.replaced)+1; i++ {
		next, ok := s.replaced[id]
		if !ok {
			break
		}
		id = next
	}
	return id
}

// resolveTarget maps a decision target, a goal id or a C<n> label pointing at
// an earlier candidate, to a live goal index.
func (s *mergeState) resolveTarget(target string, index int) int {
	if n, ok := parseLabel(target, "C"); ok {
		if n-1 >= index {
			return -1
		}
		target = s.produced[n-1]
	}
	if target == "" {
		return -1
	}
	return s.index(s.resolveID(target))
}

func (s *mergeState) index(id string) int {
	for i := range s.live {
		if s.live[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *mergeState) apply(op goal.Operation, d decision) goal.Operation {
	text := goal.NormalizeText(d.text)
	if text == "" {
		text = op.Candidate.Text
	}
	if d.kind == goal.OpCreate {
		return s.create(op, text, "")
	}

	ti := s.resolveTarget(d.target, op.Index)
	if ti < 0 {
		return s.create(op, op.Candidate.Text, fmt.Sprintf("unknown target %q", d.target))
	}
	target := s.live[ti]
	op.TargetID = target.ID

	if target.Locked {
		op.Kind = goal.OpNoopLocked
		op.GoalID = target.ID
		op.Reason = goal.ReasonLockedConflict
		return op
	}

	kind := d.kind
	if kind == goal.OpUpdate && op.Candidate.Type != target.Type {
		kind = goal.OpSupersede
		op.Reason = "reclassified"
	}

	switch kind {
	case goal.OpUpdate:
		if text == target.Text {
			return s.noop(op, target.ID, "unchanged")
		}
		s.live[ti].Text = text
		s.live[ti].SourceMessageID = s.messageID
		if op.Candidate.Summary != "" {
			s.live[ti].Summary = op.Candidate.Summary
		}
		s.live[ti].UpdatedAt = s.now
		op.Kind = goal.OpUpdate
		op.GoalID = target.ID
		op.Text = text

	case goal.OpSupersede:
		next := s.newGoal(op.Candidate, text)
		next.Supersedes = target.ID
		old := target
		old.SupersededBy = next.ID
		old.UpdatedAt = s.now
		s.live = append(s.live[:ti], s.live[ti+1:]...)
		s.live = append(s.live, next)
		s.retired = append(s.retired, old)
		s.replaced[old.ID] = next.ID
		op.Kind = goal.OpSupersede
		op.GoalID = next.ID
		op.Text = text

	default:
		op = s.noop(op, target.ID, "")
	}
	return op
}

func (s *mergeState) create(op goal.Operation, text, reason string) goal.Operation {
	g := s.newGoal(op.Candidate, text)
	s.live = append(s.live, g)
	op.Kind = goal.OpCreate
	op.GoalID = g.ID
	op.TargetID = ""
	op.Text = text
	op.Reason = reason
	return op
}

func (s *mergeState) noop(op goal.Operation, id, reason string) goal.Operation {
	op.GoalID = id
	op.TargetID = id
	op.Text = ""
	op.Kind = goal.OpNoop
	if i := s.index(id); i >= 0 && s.live[i].Locked {
		op.Kind = goal.OpNoopLocked
		reason = goal.ReasonLockedConflict
	}
	op.Reason = reason
	return op
}

func (s *mergeState) newGoal(c goal.CandidateGoal, text string) goal.Goal {
	return goal.Goal{
		ID:              s.newID(),
		Type:            c.Type,
		Text:            text,
		Summary:         c.Summary,
		SourceMessageID: s.messageID,
		Status:          goal.StatusOpen,
		CreatedAt:       s.now,
		UpdatedAt:       s.now,
	}
}

func parseOperation(s string) (goal.OperationKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "create", "new":
		return goal.OpCreate, true
	case "update", "combine":
		return goal.OpUpdate, true
	case "supersede", "replace":
		return goal.OpSupersede, true
	case "noop", "keep", "duplicate":
		return goal.OpNoop, true
	}
	return "", false
}

// parseLabel reads labels like "C3" and returns 3.
func parseLabel(s, prefix string) (int, bool) {
	s = strings.TrimSpace(s)
	if len(s) <= len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(s[len(prefix):])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func jaccard(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokens(s string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	}) {
		out[f] = true
	}
	return out
}
