package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ongoal/internal/conversation"
	"ongoal/internal/goal"
	"ongoal/internal/llm_client"
	"ongoal/internal/logger"
	"ongoal/internal/pipeline"
	"ongoal/internal/supervisor"
)

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warnw("writing response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error(), Kind: errorKind(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrNotFound), errors.Is(err, conversation.ErrGoalNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrPipelineBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, pipeline.ErrInvalidTransition), errors.Is(err, pipeline.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, errBadRequest), errors.Is(err, pipeline.ErrEmptyMessage):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// errorKind names an error for clients that branch on it.
func errorKind(err error) string {
	switch {
	case errors.Is(err, supervisor.ErrNotFound):
		return "ConversationNotFound"
	case errors.Is(err, conversation.ErrGoalNotFound):
		return "GoalNotFound"
	case errors.Is(err, pipeline.ErrPipelineBusy):
		return "PipelineBusy"
	case errors.Is(err, pipeline.ErrInvalidTransition):
		return "InvalidStageTransition"
	case errors.Is(err, pipeline.ErrClosed):
		return "ConversationClosed"
	case errors.Is(err, errBadRequest), errors.Is(err, pipeline.ErrEmptyMessage):
		return "BadRequest"
	}
	return string(llm_client.KindOf(err))
}

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }
func (e *requestError) Unwrap() error { return errBadRequest }

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func convID(r *http.Request) string {
	return chi.URLParam(r, "conversationID")
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "OnGoal API", "version": Version})
}

type healthResponse struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	LLMService struct {
		Backend   string `json:"backend"`
		Model     string `json:"model"`
		Available bool   `json:"available"`
	} `json:"llm_service"`
	Conversations int `json:"conversations"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	gw := s.sup.Gateway()
	var resp healthResponse
	resp.Timestamp = time.Now()
	resp.LLMService.Backend = gw.Backend()
	resp.LLMService.Model = gw.Model()
	resp.LLMService.Available = gw.Available()
	resp.Status = "healthy"
	if !resp.LLMService.Available {
		resp.Status = "degraded"
	}
	resp.Conversations = len(s.sup.List())
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"conversations": s.sup.List()})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	sess, err := s.sup.Create(req.ID)
	if err != nil {
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, sess.Orchestrator.Snapshot())
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sup.Snapshot(convID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Destroy(convID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReset clears a conversation, creating it if needed.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := convID(r)
	s.sup.GetOrCreate(id)
	if err := s.sup.Reset(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"message":   "Conversation " + id + " reset",
		"timestamp": time.Now(),
	})
}

func (s *Server) handleToggleStage(w http.ResponseWriter, r *http.Request) {
	st, ok := goal.ParseStage(chi.URLParam(r, "stage"))
	if !ok {
		writeError(w, badRequest("unknown stage "+chi.URLParam(r, "stage")))
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Enabled == nil {
		writeError(w, badRequest("enabled is required"))
		return
	}
	settings, err := s.sup.SetPipelineStage(convID(r), st, *req.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pipeline_settings": settings})
}

type messageRequest struct {
	Message string `json:"message"`
}

// handleSubmitMessage records a user message and starts the pipeline. The
// caller streams the reply itself through the responses endpoints.
func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := convID(r)
	s.sup.GetOrCreate(id)
	msg, err := s.sup.SubmitUserMessage(r.Context(), id, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

// handleTurn runs a whole exchange, reply included, and returns when
// evaluation has finished.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := convID(r)
	s.sup.GetOrCreate(id)
	res, err := s.sup.Turn(r.Context(), id, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStartResponse(w http.ResponseWriter, r *http.Request) {
	msg, err := s.sup.StartResponse(convID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleAppendResponse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.sup.AppendResponse(convID(r), chi.URLParam(r, "messageID"), req.Text); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteResponse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullText string `json:"full_text"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	msg, err := s.sup.MarkResponseComplete(r.Context(), convID(r), chi.URLParam(r, "messageID"), req.FullText)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sup.Snapshot(convID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"goals": snap.Goals, "retired": snap.Retired})
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sup.Get(convID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	g, err := sess.Conversation.Goal(chi.URLParam(r, "goalID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text            string `json:"text"`
		Type            string `json:"type"`
		SourceMessageID string `json:"source_message_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	typ, err := goal.ParseType(req.Type)
	if err != nil {
		writeError(w, badRequest(err.Error()))
		return
	}
	if goal.NormalizeText(req.Text) == "" {
		writeError(w, badRequest("text is required"))
		return
	}
	g, err := s.sup.CreateGoal(convID(r), typ, req.Text, req.SourceMessageID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// handleUpdateGoal applies any of text, locked and completed.
func (s *Server) handleUpdateGoal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text      *string `json:"text"`
		Locked    *bool   `json:"locked"`
		Completed *bool   `json:"completed"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, goalID := convID(r), chi.URLParam(r, "goalID")
	if req.Text != nil && goal.NormalizeText(*req.Text) == "" {
		writeError(w, badRequest("text must not be empty"))
		return
	}

	sess, err := s.sup.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	g, err := sess.Conversation.Goal(goalID)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Text != nil {
		if g, err = s.sup.UpdateGoalText(id, goalID, *req.Text); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Locked != nil {
		if g, err = s.sup.SetGoalLocked(id, goalID, *req.Locked); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Completed != nil {
		if g, err = s.sup.SetGoalCompleted(id, goalID, *req.Completed); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "goal": g})
}

func (s *Server) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.DeleteGoal(convID(r), chi.URLParam(r, "goalID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLock(locked bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, err := s.sup.SetGoalLocked(convID(r), chi.URLParam(r, "goalID"), locked)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "goal": g})
	}
}

func (s *Server) handleComplete(completed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, err := s.sup.SetGoalCompleted(convID(r), chi.URLParam(r, "goalID"), completed)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "goal": g})
	}
}
