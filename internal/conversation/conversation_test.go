package conversation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ongoal/internal/goal"
)

func newTestConversation() *Conversation {
	c := New("c1", goal.DefaultSettings())
	n := 0
	c.newID = func() string {
		n++
		return fmt.Sprintf("id%d", n)
	}
	return c
}

func TestTurnLifecycle(t *testing.T) {
	c := newTestConversation()

	_, err := c.StartResponse()
	require.ErrorIs(t, err, ErrInvalidTransition, "no user message yet")

	user, _ := c.AppendUserMessage("write a story")
	reply, err := c.StartResponse()
	require.NoError(t, err)

	_, err = c.StartResponse()
	require.ErrorIs(t, err, ErrInvalidTransition, "response already open")

	require.NoError(t, c.AppendResponse(reply.ID, "Once "))
	require.NoError(t, c.AppendResponse(reply.ID, "upon a time"))
	require.ErrorIs(t, c.AppendResponse(user.ID, "x"), ErrInvalidTransition)

	msg, ok := c.Message(reply.ID)
	require.True(t, ok)
	assert.Equal(t, "Once upon a time", msg.Content)
	assert.False(t, msg.Complete)

	done, err := c.CompleteResponse(reply.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time", done.Content)
	assert.True(t, done.Complete)

	_, err = c.CompleteResponse(reply.ID, "again")
	require.ErrorIs(t, err, ErrInvalidTransition, "completing twice")
}

func TestAppendUserMessageAbandonsOpenResponse(t *testing.T) {
	c := newTestConversation()
	c.AppendUserMessage("first")
	reply, err := c.StartResponse()
	require.NoError(t, err)

	_, abandoned := c.AppendUserMessage("second")
	assert.Equal(t, reply.ID, abandoned)

	_, err = c.CompleteResponse(reply.ID, "late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestHistory(t *testing.T) {
	c := newTestConversation()
	var last goal.Message
	for i := 0; i < 4; i++ {
		last, _ = c.AppendUserMessage(fmt.Sprintf("m%d", i))
	}

	h := c.History(last.ID, 2)
	require.Len(t, h, 2)
	assert.Equal(t, "m1", h[0].Content)
	assert.Equal(t, "m2", h[1].Content)

	assert.Len(t, c.History(last.ID, -1), 3)
	assert.Empty(t, c.History(last.ID, 0))
}

func TestApplyMergeReplaysOperations(t *testing.T) {
	c := newTestConversation()
	msg, _ := c.AppendUserMessage("make it funnier and shorter")
	locked, err := c.CreateGoal(goal.TypeRequest, "write a story", "m0")
	require.NoError(t, err)
	other, err := c.CreateGoal(goal.TypeRequest, "use a pirate theme", "m0")
	require.NoError(t, err)
	gone, err := c.CreateGoal(goal.TypeQuestion, "how long?", "m0")
	require.NoError(t, err)

	// The merge was computed before these overrides landed.
	_, err = c.SetLocked(locked.ID, true)
	require.NoError(t, err)
	_, err = c.DeleteGoal(gone.ID)
	require.NoError(t, err)

	updatedLocked := locked
	updatedLocked.Text = "write a funny story"
	replacement := goal.Goal{ID: "new1", Type: goal.TypeSuggestion, Text: "use a space theme", Status: goal.StatusOpen}
	updatedGone := gone
	updatedGone.Text = "how long should it be?"

	res := goal.MergeResult{
		Goals: []goal.Goal{updatedLocked, replacement, updatedGone},
		Operations: []goal.Operation{
			{Index: 0, Kind: goal.OpUpdate, TargetID: locked.ID, GoalID: locked.ID, Text: "write a funny story"},
			{Index: 1, Kind: goal.OpSupersede, TargetID: other.ID, GoalID: "new1", Text: "use a space theme"},
			{Index: 2, Kind: goal.OpUpdate, TargetID: gone.ID, GoalID: gone.ID, Text: "how long should it be?"},
		},
	}

	out := c.ApplyMerge(msg.ID, res)
	require.Len(t, out.Operations, 3)

	assert.Equal(t, goal.OpNoopLocked, out.Operations[0].Kind)
	assert.Equal(t, goal.ReasonLockedConflict, out.Operations[0].Reason)
	g, err := c.Goal(locked.ID)
	require.NoError(t, err)
	assert.Equal(t, "write a story", g.Text, "locked text must not change")

	assert.Equal(t, goal.OpSupersede, out.Operations[1].Kind)
	_, err = c.Goal(other.ID)
	assert.ErrorIs(t, err, ErrGoalNotFound)
	require.Len(t, out.Retired, 1)
	assert.Equal(t, "new1", out.Retired[0].SupersededBy)
	repl, err := c.Goal("new1")
	require.NoError(t, err)
	assert.Equal(t, other.ID, repl.Supersedes)

	assert.Equal(t, goal.OpCreate, out.Operations[2].Kind)
	assert.NotEqual(t, gone.ID, out.Operations[2].GoalID)
	recreated, err := c.Goal(out.Operations[2].GoalID)
	require.NoError(t, err)
	assert.Equal(t, "how long should it be?", recreated.Text)

	assert.Equal(t, c.Goals(), out.Goals)
	seen := map[string]bool{}
	for _, g := range out.Goals {
		assert.False(t, seen[g.ID], "duplicate id %s", g.ID)
		seen[g.ID] = true
	}

	m, _ := c.Message(msg.ID)
	assert.Equal(t, []string{locked.ID, "new1", out.Operations[2].GoalID}, m.Goals)
}

func TestApplyMergeRecreatesDeletedNoopTargets(t *testing.T) {
	c := newTestConversation()
	msg, _ := c.AppendUserMessage("what's the weather? and write a poem")
	dup, err := c.CreateGoal(goal.TypeQuestion, "What's the weather?", "m0")
	require.NoError(t, err)
	locked, err := c.CreateGoal(goal.TypeRequest, "write a poem", "m0")
	require.NoError(t, err)
	_, err = c.SetLocked(locked.ID, true)
	require.NoError(t, err)

	// Both matched goals are deleted before the merge result lands.
	_, err = c.DeleteGoal(dup.ID)
	require.NoError(t, err)
	_, err = c.DeleteGoal(locked.ID)
	require.NoError(t, err)

	res := goal.MergeResult{
		Goals: []goal.Goal{dup, locked},
		Operations: []goal.Operation{
			{Index: 0, Kind: goal.OpNoop, TargetID: dup.ID, GoalID: dup.ID,
				Candidate: goal.CandidateGoal{Type: goal.TypeQuestion, Text: "What's  the weather?"}},
			{Index: 1, Kind: goal.OpNoopLocked, TargetID: locked.ID, GoalID: locked.ID, Reason: goal.ReasonLockedConflict,
				Candidate: goal.CandidateGoal{Type: goal.TypeRequest, Text: "write a sonnet"}},
		},
	}

	out := c.ApplyMerge(msg.ID, res)
	require.Len(t, out.Operations, 2)
	require.Len(t, out.Goals, 2)

	for i, want := range []string{"What's the weather?", "write a sonnet"} {
		op := out.Operations[i]
		assert.Equal(t, goal.OpCreate, op.Kind)
		assert.Empty(t, op.TargetID)
		g, err := c.Goal(op.GoalID)
		require.NoError(t, err)
		assert.Equal(t, want, g.Text)
		assert.Equal(t, msg.ID, g.SourceMessageID)
		assert.False(t, g.Locked)
	}

	m, _ := c.Message(msg.ID)
	assert.Equal(t, []string{out.Operations[0].GoalID, out.Operations[1].GoalID}, m.Goals)
	assert.NotContains(t, m.Goals, dup.ID)
}

func TestApplyEvaluationsKeepsCompleted(t *testing.T) {
	c := newTestConversation()
	a, _ := c.CreateGoal(goal.TypeQuestion, "what's the weather?", "m1")
	b, _ := c.CreateGoal(goal.TypeRequest, "book a table", "m1")
	_, err := c.SetCompleted(b.ID, true)
	require.NoError(t, err)

	applied := c.ApplyEvaluations("m2", []goal.Evaluation{
		{GoalID: a.ID, Category: goal.CategoryConfirm, Explanation: "answered"},
		{GoalID: b.ID, Category: goal.CategoryContradict, Explanation: "refused"},
		{GoalID: "unknown", Category: goal.CategoryConfirm},
	})
	require.Len(t, applied, 2)

	ga, _ := c.Goal(a.ID)
	assert.Equal(t, goal.StatusConfirmed, ga.Status)
	assert.Equal(t, "m2", ga.Evaluation.MessageID)

	gb, _ := c.Goal(b.ID)
	assert.Equal(t, goal.StatusCompleted, gb.Status)
	assert.Equal(t, goal.CategoryContradict, gb.Evaluation.Category)

	reopened, err := c.SetCompleted(b.ID, false)
	require.NoError(t, err)
	assert.Equal(t, goal.StatusContradicted, reopened.Status)
}

func TestHumanOverrides(t *testing.T) {
	c := newTestConversation()

	_, err := c.CreateGoal("statement", "x", "")
	assert.Error(t, err)
	_, err = c.CreateGoal(goal.TypeOffer, "   ", "")
	assert.Error(t, err)

	g, err := c.CreateGoal(goal.TypeOffer, "I can  help with edits", "")
	require.NoError(t, err)
	assert.Equal(t, "I can help with edits", g.Text)

	g, err = c.UpdateGoalText(g.ID, "I can proofread")
	require.NoError(t, err)
	assert.Equal(t, "I can proofread", g.Text)

	_, err = c.SetLocked("missing", true)
	assert.ErrorIs(t, err, ErrGoalNotFound)

	snap := c.Snapshot()
	assert.Equal(t, "c1", snap.ID)
	assert.Len(t, snap.Goals, 1)

	c.Reset()
	assert.Empty(t, c.Goals())
	assert.True(t, c.Settings().Merge)
}
