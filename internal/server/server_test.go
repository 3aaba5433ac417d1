package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ongoal/internal/config"
	"ongoal/internal/goal"
	"ongoal/internal/llm_client"
	"ongoal/internal/llm_client/llmtest"
	"ongoal/internal/supervisor"
)

func newTestServer(t *testing.T, p *llmtest.Provider) *httptest.Server {
	t.Helper()
	var provider llm_client.Provider
	if p != nil {
		provider = p
	}
	sup := supervisor.New(llm_client.NewGateway(provider, time.Second), supervisor.OptionsFromConfig(config.Default()))
	srv := New(sup, config.Server{AllowedOrigins: []string{"http://localhost:3000"}})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sup.Shutdown(ctx)
	})
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := do(t, ts, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h := decodeBody[healthResponse](t, resp)
	assert.Equal(t, "degraded", h.Status)
	assert.False(t, h.LLMService.Available)

	ts = newTestServer(t, llmtest.New())
	h = decodeBody[healthResponse](t, do(t, ts, http.MethodGet, "/api/health", nil))
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "fake", h.LLMService.Backend)
}

func TestGoalEndpoints(t *testing.T) {
	ts := newTestServer(t, llmtest.New())
	base := "/api/conversations/c1"

	assert.Equal(t, http.StatusNotFound, do(t, ts, http.MethodGet, base, nil).StatusCode)
	require.Equal(t, http.StatusOK, do(t, ts, http.MethodPost, base+"/reset", nil).StatusCode)

	resp := do(t, ts, http.MethodPost, base+"/goals", map[string]string{"text": "write a story", "type": "Request"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	g := decodeBody[goal.Goal](t, resp)
	assert.Equal(t, goal.TypeRequest, g.Type)

	resp = do(t, ts, http.MethodPost, base+"/goals", map[string]string{"text": "x", "type": "statement"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	type goalResp struct {
		Goal goal.Goal `json:"goal"`
	}
	resp = do(t, ts, http.MethodPost, base+"/goals/"+g.ID+"/lock", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[goalResp](t, resp).Goal.Locked)

	resp = do(t, ts, http.MethodPut, base+"/goals/"+g.ID, map[string]any{"text": "write a short story", "completed": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[goalResp](t, resp).Goal
	assert.Equal(t, "write a short story", updated.Text)
	assert.Equal(t, goal.StatusCompleted, updated.Status)

	resp = do(t, ts, http.MethodGet, base+"/goals", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[struct {
		Goals []goal.Goal `json:"goals"`
	}](t, resp)
	assert.Len(t, list.Goals, 1)

	assert.Equal(t, http.StatusNoContent, do(t, ts, http.MethodDelete, base+"/goals/"+g.ID, nil).StatusCode)
	resp = do(t, ts, http.MethodGet, base+"/goals/"+g.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "GoalNotFound", decodeBody[errorBody](t, resp).Kind)
}

func TestSubmitWhileBusy(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	ts := newTestServer(t, llmtest.New(llmtest.Rule{Match: "Human dialogue:", Response: `{"clauses":[]}`, Gate: gate}))

	resp := do(t, ts, http.MethodPost, "/api/conversations/c1/messages", messageRequest{Message: "first"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = do(t, ts, http.MethodPost, "/api/conversations/c1/messages", messageRequest{Message: "second"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "PipelineBusy", decodeBody[errorBody](t, resp).Kind)

	resp = do(t, ts, http.MethodPost, "/api/conversations/c2/messages", messageRequest{Message: " "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExternalResponseFlow(t *testing.T) {
	ts := newTestServer(t, llmtest.New())
	base := "/api/conversations/c1"

	resp := do(t, ts, http.MethodPost, base+"/messages", messageRequest{Message: "hello"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = do(t, ts, http.MethodPost, base+"/responses", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reply := decodeBody[goal.Message](t, resp)

	resp = do(t, ts, http.MethodPost, base+"/responses/"+reply.ID+"/chunks", map[string]string{"text": "Hi "})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, ts, http.MethodPost, base+"/responses/not-a-message/complete", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "InvalidStageTransition", decodeBody[errorBody](t, resp).Kind)

	resp = do(t, ts, http.MethodPost, base+"/responses/"+reply.ID+"/complete", map[string]string{"full_text": "Hi there!"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	done := decodeBody[goal.Message](t, resp)
	assert.Equal(t, "Hi there!", done.Content)
	assert.True(t, done.Complete)
}

func TestPipelineToggle(t *testing.T) {
	ts := newTestServer(t, llmtest.New())
	do(t, ts, http.MethodPost, "/api/conversations/c1/reset", nil)

	resp := do(t, ts, http.MethodPut, "/api/conversations/c1/pipeline/merge", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[struct {
		Settings goal.Settings `json:"pipeline_settings"`
	}](t, resp)
	assert.Equal(t, goal.Settings{Infer: true, Merge: false, Evaluate: true}, body.Settings)

	resp = do(t, ts, http.MethodPut, "/api/conversations/c1/pipeline/respond", map[string]bool{"enabled": false})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

type frame struct {
	Seq  uint64          `json:"seq"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) []frame {
	t.Helper()
	var out []frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		out = append(out, f)
		if f.Type == typ {
			return out
		}
	}
}

func frameIndex(frames []frame, typ string) int {
	for i, f := range frames {
		if f.Type == typ {
			return i
		}
	}
	return -1
}

func TestWebSocketTurn(t *testing.T) {
	p := llmtest.New().
		On("Human dialogue:", `{"clauses":[{"clause":"What's the weather?","type":"question"}]}`).
		On("Assistant response:", `{"evaluations":[]}`)
	p.Chunks = []string{"It is ", "sunny."}
	ts := newTestServer(t, p)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/c9"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readUntil(t, conn, "conversation_state")
	require.Len(t, first, 1)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "user_message", "message": "What's the weather?"}))
	frames := readUntil(t, conn, "goals_evaluated")

	inferred := frameIndex(frames, "goals_inferred")
	updated := frameIndex(frames, "goals_updated")
	complete := frameIndex(frames, "response_complete")
	evaluated := frameIndex(frames, "goals_evaluated")
	require.True(t, inferred >= 0 && updated >= 0 && complete >= 0, "frames: %+v", frames)
	assert.Less(t, inferred, updated)
	assert.Less(t, complete, evaluated)
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].Seq, frames[i-1].Seq)
	}

	var done struct {
		FullText string `json:"full_text"`
	}
	require.NoError(t, json.Unmarshal(frames[complete].Data, &done))
	assert.Equal(t, "It is sunny.", done.FullText)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "toggle_pipeline", "stage": "evaluate", "enabled": false}))
	toggled := readUntil(t, conn, "pipeline_toggled")
	assert.Len(t, toggled, 1)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "get_conversation"}))
	state := readUntil(t, conn, "conversation_state")
	var snap struct {
		Goals    []goal.Goal   `json:"goals"`
		Settings goal.Settings `json:"pipeline_settings"`
	}
	require.NoError(t, json.Unmarshal(state[len(state)-1].Data, &snap))
	assert.Len(t, snap.Goals, 1)
	assert.False(t, snap.Settings.Evaluate)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	errs := readUntil(t, conn, "error")
	var e struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(errs[len(errs)-1].Data, &e))
	assert.Equal(t, "BadRequest", e.Kind)
}

func TestWebSocketReconnectReplacesObserver(t *testing.T) {
	ts := newTestServer(t, llmtest.New())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	readUntil(t, first, "conversation_state")

	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer second.Close()
	readUntil(t, second, "conversation_state")

	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err = first.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
