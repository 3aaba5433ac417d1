package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ongoal/internal/config"
	"ongoal/internal/conversation"
	"ongoal/internal/events"
	"ongoal/internal/goal"
	"ongoal/internal/llm_client"
	"ongoal/internal/logger"
	"ongoal/internal/metrics"
	"ongoal/internal/pipeline"
)

var ErrNotFound = errors.New("conversation not found")

// StageRespond names reply streaming failures in error events.
const StageRespond = "respond"

type Options struct {
	Settings      goal.Settings
	HistoryTurns  int
	MergeStrategy string
	Similarity    float64
	EventBuffer   int
	// OnRun receives pipeline run timings from every conversation.
	OnRun func(metrics.RunMetrics)
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Settings:      cfg.Pipeline.Stages,
		HistoryTurns:  cfg.Pipeline.HistoryTurns,
		MergeStrategy: cfg.Pipeline.MergeStrategy,
		Similarity:    cfg.Pipeline.Similarity,
	}
}

// Supervisor owns every live conversation, keyed by id. Each one has its own
// orchestrator, so conversations never share mutable state.
type Supervisor struct {
	gateway *llm_client.Gateway
	stages  pipeline.Stages
	opts    Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

func New(gw *llm_client.Gateway, opts Options) *Supervisor {
	return &Supervisor{
		gateway:  gw,
		stages:   pipeline.NewStages(gw, opts.MergeStrategy, opts.Similarity),
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

func (s *Supervisor) Gateway() *llm_client.Gateway { return s.gateway }

// Create starts a conversation. An empty id gets a generated one.
func (s *Supervisor) Create(id string) (*Session, error) {
	if id == "" {
		id = newSessionID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return nil, fmt.Errorf("conversation %s already exists", id)
	}
	return s.createLocked(id), nil
}

func (s *Supervisor) GetOrCreate(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	return s.createLocked(id)
}

func (s *Supervisor) createLocked(id string) *Session {
	conv := conversation.New(id, s.opts.Settings)
	stream := events.NewStream(id, s.opts.EventBuffer)
	sess := &Session{
		ID:           id,
		Conversation: conv,
		Orchestrator: pipeline.NewOrchestrator(conv, stream, s.stages, pipeline.Options{
			HistoryTurns: s.opts.HistoryTurns,
			OnRun:        s.opts.OnRun,
		}),
		CreatedAt: time.Now(),
	}
	s.sessions[id] = sess
	logger.Log.Infow("conversation created", "conversation_id", id)
	return sess
}

func (s *Supervisor) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// Destroy closes a conversation and forgets it.
func (s *Supervisor) Destroy(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess.Orchestrator.Close()
	logger.Log.Infow("conversation destroyed", "conversation_id", id)
	return nil
}

// List summarizes every conversation, oldest first.
func (s *Supervisor) List() []Summary {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	out := make([]Summary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Summary())
	}
	return out
}

// Shutdown closes every conversation and waits for their workers.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Orchestrator.Close()
	}
	for _, sess := range sessions {
		select {
		case <-sess.Orchestrator.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Supervisor) SubmitUserMessage(ctx context.Context, id, text string) (goal.Message, error) {
	sess, err := s.Get(id)
	if err != nil {
		return goal.Message{}, err
	}
	return sess.Orchestrator.SubmitUserMessage(ctx, text)
}

func (s *Supervisor) SetPipelineStage(id string, st goal.Stage, enabled bool) (goal.Settings, error) {
	sess, err := s.Get(id)
	if err != nil {
		return goal.Settings{}, err
	}
	return sess.Orchestrator.SetStage(st, enabled)
}

func (s *Supervisor) MarkResponseComplete(ctx context.Context, id, messageID, fullText string) (goal.Message, error) {
	sess, err := s.Get(id)
	if err != nil {
		return goal.Message{}, err
	}
	return sess.Orchestrator.MarkResponseComplete(ctx, messageID, fullText)
}

func (s *Supervisor) SetGoalLocked(id, goalID string, locked bool) (goal.Goal, error) {
	sess, err := s.Get(id)
	if err != nil {
		return goal.Goal{}, err
	}
	return sess.Orchestrator.SetGoalLocked(goalID, locked)
}

func (s *Supervisor) SetGoalCompleted(id, goalID string, completed bool) (goal.Goal, error) {
	sess, err := s.Get(id)
	if err != nil {
		return goal.Goal{}, err
	}
	return sess.Orchestrator.SetGoalCompleted(goalID, completed)
}

func (s *Supervisor) CreateGoal(id string, typ goal.Type, text, sourceMessageID string) (goal.Goal, error) {
	sess, err := s.Get(id)
	if err != nil {
		return goal.Goal{}, err
	}
	return sess.Orchestrator.CreateGoal(typ, text, sourceMessageID)
}

func (s *Supervisor) UpdateGoalText(id, goalID, text string) (goal.Goal, error) {
	sess, err := s.Get(id)
	if err != nil {
		return goal.Goal{}, err
	}
	return sess.Orchestrator.UpdateGoalText(goalID, text)
}

func (s *Supervisor) DeleteGoal(id, goalID string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	return sess.Orchestrator.DeleteGoal(goalID)
}

func (s *Supervisor) Reset(id string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	return sess.Orchestrator.Reset()
}

func (s *Supervisor) Snapshot(id string) (conversation.Snapshot, error) {
	sess, err := s.Get(id)
	if err != nil {
		return conversation.Snapshot{}, err
	}
	return sess.Orchestrator.Snapshot(), nil
}

// StartResponse and AppendResponse let an external client stream the reply
// itself instead of calling Respond.
func (s *Supervisor) StartResponse(id string) (goal.Message, error) {
	sess, err := s.Get(id)
	if err != nil {
		return goal.Message{}, err
	}
	return sess.Orchestrator.StartResponse()
}

func (s *Supervisor) AppendResponse(id, messageID, chunk string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	return sess.Orchestrator.AppendResponse(messageID, chunk)
}

// Respond streams an assistant reply for the current turn from the whole
// conversation history. A failed stream still completes the turn with
// whatever text arrived.
func (s *Supervisor) Respond(ctx context.Context, id string) (goal.Message, error) {
	sess, err := s.Get(id)
	if err != nil {
		return goal.Message{}, err
	}
	o := sess.Orchestrator

	msg, err := o.StartResponse()
	if err != nil {
		return goal.Message{}, err
	}
	history := chatHistory(sess.Conversation.History(msg.ID, -1))

	var sb strings.Builder
	streamErr := s.gateway.Stream(ctx, history, func(chunk string) error {
		sb.WriteString(chunk)
		return o.AppendResponse(msg.ID, chunk)
	})
	if streamErr != nil {
		logger.Log.Warnw("reply stream failed", "conversation_id", id, "message_id", msg.ID, "error", streamErr)
		o.PublishError(StageRespond, streamErr)
	}

	done, err := o.MarkResponseComplete(context.WithoutCancel(ctx), msg.ID, sb.String())
	if err != nil {
		return goal.Message{}, err
	}
	return done, nil
}

// Turn submits a user message, streams the reply while inference and merge
// run, and returns once evaluation has finished.
func (s *Supervisor) Turn(ctx context.Context, id, text string) (TurnResult, error) {
	sess, err := s.Get(id)
	if err != nil {
		return TurnResult{}, err
	}
	o := sess.Orchestrator

	user, err := o.SubmitUserMessage(ctx, text)
	if err != nil {
		return TurnResult{}, err
	}
	start := time.Now()

	res := TurnResult{ConversationID: id, UserMessage: user}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reply, err := s.Respond(gctx, id)
		res.Reply = reply
		return err
	})
	g.Go(func() error {
		return o.WaitIdle(gctx)
	})
	if err := g.Wait(); err != nil {
		return res, err
	}
	// Evaluation is queued only once the reply completes.
	if err := o.WaitIdle(ctx); err != nil {
		return res, err
	}

	res.Goals = sess.Conversation.Goals()
	res.Duration = time.Since(start)
	return res, nil
}

func chatHistory(msgs []goal.Message) []llm_client.ChatMessage {
	out := make([]llm_client.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, llm_client.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
