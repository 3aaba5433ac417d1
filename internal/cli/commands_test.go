package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ongoal/internal/config"
	"ongoal/internal/goal"
	"ongoal/internal/llm_client"
	"ongoal/internal/llm_client/llmtest"
	"ongoal/internal/supervisor"
)

func newTestCommander(t *testing.T, confirm bool) *commander {
	t.Helper()
	sup := supervisor.New(llm_client.NewGateway(llmtest.New(), time.Second), supervisor.OptionsFromConfig(config.Default()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sup.Shutdown(ctx)
	})
	sess := sup.GetOrCreate("cli")
	return &commander{sup: sup, convID: sess.ID, confirm: func(string) bool { return confirm }}
}

func TestGoalCommands(t *testing.T) {
	c := newTestCommander(t, true)

	out, err := c.run("/goals")
	require.NoError(t, err)
	assert.Equal(t, "No goals yet.", out)

	out, err = c.run("/add request write a haiku about rain")
	require.NoError(t, err)
	assert.Contains(t, out, "write a haiku about rain")

	snap, err := c.sup.Snapshot(c.convID)
	require.NoError(t, err)
	require.Len(t, snap.Goals, 1)
	id := snap.Goals[0].ID

	_, err = c.run("/lock " + id[:4])
	require.NoError(t, err)
	_, err = c.run("/done " + id[:4])
	require.NoError(t, err)
	out, err = c.run("/edit " + id[:4] + " write a limerick")
	require.NoError(t, err)
	assert.Contains(t, out, "write a limerick")

	g, err := c.sup.Snapshot(c.convID)
	require.NoError(t, err)
	assert.True(t, g.Goals[0].Locked)
	assert.Equal(t, goal.StatusCompleted, g.Goals[0].Status)

	_, err = c.run("/delete " + id)
	require.NoError(t, err)
	_, err = c.run("/unlock " + id)
	assert.Error(t, err)
}

func TestToggleAndReset(t *testing.T) {
	c := newTestCommander(t, false)

	out, err := c.run("/toggle merge")
	require.NoError(t, err)
	assert.Equal(t, "Pipeline: infer=true merge=false evaluate=true", out)
	out, err = c.run("/toggle MERGE")
	require.NoError(t, err)
	assert.Equal(t, "Pipeline: infer=true merge=true evaluate=true", out)

	_, err = c.run("/add question why is the sky blue")
	require.NoError(t, err)
	out, err = c.run("/reset")
	require.NoError(t, err)
	assert.Equal(t, "Reset cancelled.", out)

	c.confirm = func(string) bool { return true }
	_, err = c.run("/reset")
	require.NoError(t, err)
	snap, err := c.sup.Snapshot(c.convID)
	require.NoError(t, err)
	assert.Empty(t, snap.Goals)
}

func TestCommandErrors(t *testing.T) {
	c := newTestCommander(t, true)

	tests := []struct {
		line string
		want string
	}{
		{"/add statement hello", "unknown goal type"},
		{"/add request", "usage: /add"},
		{"/lock", "usage: /lock <id>"},
		{"/lock nope", "no goal matches"},
		{"/toggle respond", "unknown stage"},
		{"/fly", "unknown command /fly"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := c.run(tt.line)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := c.run("/exit")
	assert.ErrorIs(t, err, errQuit)
}

func TestResolveAmbiguousPrefix(t *testing.T) {
	c := newTestCommander(t, true)
	for _, text := range []string{"task one", "task two"} {
		_, err := c.run("/add request " + text)
		require.NoError(t, err)
	}
	_, err := c.resolve("")
	assert.ErrorContains(t, err, "ambiguous")
}

func TestPromptFor(t *testing.T) {
	tests := []struct {
		settings goal.Settings
		want     string
	}{
		{goal.DefaultSettings(), "[cli] > "},
		{goal.Settings{Infer: true, Merge: false, Evaluate: true}, "[cli -merge] > "},
		{goal.Settings{}, "[cli -infer -merge -evaluate] > "},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, promptFor("cli", tt.settings))
		})
	}
}
