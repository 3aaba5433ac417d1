package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"ongoal/internal/conversation"
	"ongoal/internal/events"
	"ongoal/internal/goal"
	"ongoal/internal/llm_client"
	"ongoal/internal/logger"
	"ongoal/internal/metrics"
)

type State string

const (
	StateIdle       State = "idle"
	StateInferring  State = "inferring"
	StateMerging    State = "merging"
	StateEvaluating State = "evaluating"
	StateClosed     State = "closed"
)

const DefaultHistoryTurns = 6

// Stages bundles the three pipeline stages.
type Stages struct {
	Infer    *Inferrer
	Merge    *Merger
	Evaluate *Evaluator
}

// NewStages wires all stages to one completer.
func NewStages(llm Completer, strategy string, similarity float64) Stages {
	return Stages{
		Infer:    NewInferrer(llm),
		Merge:    NewMerger(llm, strategy, similarity),
		Evaluate: NewEvaluator(llm),
	}
}

type Options struct {
	// HistoryTurns is how many preceding messages inference sees.
	HistoryTurns int
	// OnRun receives the timings of every finished run.
	OnRun func(metrics.RunMetrics)
}

type jobKind string

const (
	jobTurn     jobKind = "turn"
	jobEvaluate jobKind = "evaluate"
)

type job struct {
	kind      jobKind
	epoch     uint64
	messageID string
	text      string
	settings  goal.Settings
}

// Orchestrator runs the goal pipeline for one conversation. Runs execute one
// at a time on a single worker goroutine; results computed under an older
// epoch are discarded.
type Orchestrator struct {
	conv   *conversation.Conversation
	stream *events.Stream
	stages Stages
	opts   Options

	done chan struct{}

	mu sync.Mutex
	// queue is drained by the worker; wake signals a new job or close.
	queue   []job
	wake    *sync.Cond
	state   State
	pending int
	epoch   uint64
	closed  bool
	idle    chan struct{}
}

func NewOrchestrator(conv *conversation.Conversation, stream *events.Stream, stages Stages, opts Options) *Orchestrator {
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = DefaultHistoryTurns
	}
	idle := make(chan struct{})
	close(idle)
	o := &Orchestrator{
		conv:   conv,
		stream: stream,
		stages: stages,
		opts:   opts,
		done:   make(chan struct{}),
		state:  StateIdle,
		idle:   idle,
	}
	o.wake = sync.NewCond(&o.mu)
	go o.worker()
	return o
}

func (o *Orchestrator) worker() {
	defer close(o.done)
	for {
		j, ok := o.next()
		if !ok {
			return
		}
		switch j.kind {
		case jobTurn:
			o.runTurn(j)
		case jobEvaluate:
			o.runEvaluate(j)
		}
		o.finish(j)
	}
}

// next blocks until a job is queued. It reports false once the
// orchestrator is closed and the queue is empty.
func (o *Orchestrator) next() (job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.queue) == 0 && !o.closed {
		o.wake.Wait()
	}
	if len(o.queue) == 0 {
		return job{}, false
	}
	j := o.queue[0]
	o.queue = o.queue[1:]
	return j, true
}

// SubmitUserMessage appends a user message and starts inference and merge in
// the background. It fails with ErrPipelineBusy while a run is in flight.
func (o *Orchestrator) SubmitUserMessage(ctx context.Context, text string) (goal.Message, error) {
	if err := ctx.Err(); err != nil {
		return goal.Message{}, err
	}
	if strings.TrimSpace(text) == "" {
		return goal.Message{}, ErrEmptyMessage
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return goal.Message{}, ErrClosed
	}
	if o.pending > 0 {
		logger.Log.Infow("rejecting message, pipeline busy", "conversation_id", o.conv.ID(), "state", o.state)
		return goal.Message{}, ErrPipelineBusy
	}

	msg, abandoned := o.conv.AppendUserMessage(text)
	if abandoned != "" {
		logger.Log.Infow("abandoning unfinished response", "conversation_id", o.conv.ID(), "message_id", abandoned)
	}
	settings := o.conv.Settings()
	if !settings.Infer {
		return msg, nil
	}
	o.enqueueLocked(job{kind: jobTurn, messageID: msg.ID, text: text, settings: settings})
	return msg, nil
}

// StartResponse opens the assistant message for the current turn.
func (o *Orchestrator) StartResponse() (goal.Message, error) {
	if o.isClosed() {
		return goal.Message{}, ErrClosed
	}
	return o.conv.StartResponse()
}

// AppendResponse grows the open reply. The chunk is published under the
// orchestrator lock so it cannot trail the reply's response_complete.
func (o *Orchestrator) AppendResponse(messageID, chunk string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if err := o.conv.AppendResponse(messageID, chunk); err != nil {
		return err
	}
	o.stream.Publish(events.TypeResponseChunk, events.ResponseChunk{MessageID: messageID, Text: chunk})
	return nil
}

// MarkResponseComplete closes the turn and queues evaluation of the reply
// behind any run still in flight.
func (o *Orchestrator) MarkResponseComplete(ctx context.Context, messageID, fullText string) (goal.Message, error) {
	if err := ctx.Err(); err != nil {
		return goal.Message{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return goal.Message{}, ErrClosed
	}
	msg, err := o.conv.CompleteResponse(messageID, fullText)
	if err != nil {
		logger.Log.Warnw("rejected response completion", "conversation_id", o.conv.ID(), "message_id", messageID, "error", err)
		return goal.Message{}, err
	}
	o.stream.Publish(events.TypeResponseComplete, events.ResponseComplete{MessageID: msg.ID, FullText: msg.Content})

	settings := o.conv.Settings()
	if settings.Evaluate && strings.TrimSpace(msg.Content) != "" {
		o.enqueueLocked(job{kind: jobEvaluate, messageID: msg.ID, text: msg.Content, settings: settings})
	}
	return msg, nil
}

// SetStage switches a stage for subsequent runs.
func (o *Orchestrator) SetStage(st goal.Stage, enabled bool) (goal.Settings, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return goal.Settings{}, ErrClosed
	}
	s := o.conv.SetStage(st, enabled)
	o.stream.Publish(events.TypePipelineToggled, events.PipelineToggled{Stage: st, Enabled: enabled})
	return s, nil
}

func (o *Orchestrator) SetGoalLocked(goalID string, locked bool) (goal.Goal, error) {
	return o.override(func() (goal.Goal, error) { return o.conv.SetLocked(goalID, locked) })
}

func (o *Orchestrator) SetGoalCompleted(goalID string, completed bool) (goal.Goal, error) {
	return o.override(func() (goal.Goal, error) { return o.conv.SetCompleted(goalID, completed) })
}

func (o *Orchestrator) UpdateGoalText(goalID, text string) (goal.Goal, error) {
	return o.override(func() (goal.Goal, error) { return o.conv.UpdateGoalText(goalID, text) })
}

func (o *Orchestrator) CreateGoal(typ goal.Type, text, sourceMessageID string) (goal.Goal, error) {
	return o.override(func() (goal.Goal, error) { return o.conv.CreateGoal(typ, text, sourceMessageID) })
}

func (o *Orchestrator) DeleteGoal(goalID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	g, err := o.conv.DeleteGoal(goalID)
	if err != nil {
		return err
	}
	o.stream.Publish(events.TypeGoalDeleted, events.GoalDeleted{GoalID: g.ID})
	return nil
}

// override applies a human edit. It holds the orchestrator lock so the edit
// and its event cannot interleave with a merge being applied.
func (o *Orchestrator) override(fn func() (goal.Goal, error)) (goal.Goal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return goal.Goal{}, ErrClosed
	}
	g, err := fn()
	if err != nil {
		return goal.Goal{}, err
	}
	o.stream.Publish(events.TypeGoalChanged, events.GoalChanged{Goal: g})
	return g, nil
}

// Subscribe makes the caller the conversation's observer. The first event is
// a conversation_state snapshot.
func (o *Orchestrator) Subscribe() *events.Subscription {
	return o.stream.Subscribe(func() any { return o.conv.Snapshot() })
}

func (o *Orchestrator) Unsubscribe(sub *events.Subscription) {
	o.stream.Unsubscribe(sub)
}

// PublishError reports a failure that happened outside the pipeline, such as
// reply streaming.
func (o *Orchestrator) PublishError(stage string, err error) {
	o.stream.Publish(events.TypeError, errorEvent(stage, err))
}

// PublishState sends the current snapshot to the observer.
func (o *Orchestrator) PublishState() {
	o.stream.Publish(events.TypeConversationState, o.conv.Snapshot())
}

func (o *Orchestrator) Snapshot() conversation.Snapshot {
	return o.conv.Snapshot()
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// WaitIdle blocks until no run is queued or in flight.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	o.mu.Lock()
	ch := o.idle
	o.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset clears messages and goals. Runs still in flight finish but their
// results are dropped.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.epoch++
	o.queue = nil
	o.markIdleLocked()
	o.state = StateIdle
	o.conv.Reset()
	o.stream.Publish(events.TypeConversationState, o.conv.Snapshot())
	return nil
}

// Close stops the worker and ends the event stream. Queued jobs are dropped.
// In-flight gateway calls are not cancelled; their results are discarded.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.epoch++
	o.markIdleLocked()
	o.state = StateClosed
	o.queue = nil
	o.wake.Broadcast()
	o.stream.Close()
}

// Done is closed when the worker has exited.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) enqueueLocked(j job) {
	j.epoch = o.epoch
	if o.pending == 0 {
		o.idle = make(chan struct{})
	}
	o.pending++
	o.queue = append(o.queue, j)
	o.wake.Signal()
}

func (o *Orchestrator) markIdleLocked() {
	if o.pending > 0 {
		o.pending = 0
		close(o.idle)
	}
}

func (o *Orchestrator) finish(j job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if j.epoch != o.epoch || o.pending == 0 {
		return
	}
	o.pending--
	if o.pending == 0 {
		o.state = StateIdle
		close(o.idle)
	}
}

// enter moves to st unless the job went stale.
func (o *Orchestrator) enter(j job, st State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if j.epoch != o.epoch {
		return false
	}
	o.state = st
	return true
}

// commit runs fn under the orchestrator lock if the job is still current.
func (o *Orchestrator) commit(j job, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if j.epoch != o.epoch {
		logger.Log.Infow("discarding stale result", "conversation_id", o.conv.ID(), "message_id", j.messageID, "kind", j.kind)
		return false
	}
	fn()
	return true
}

func (o *Orchestrator) runTurn(j job) {
	rm := metrics.RunMetrics{ConversationID: o.conv.ID(), MessageID: j.messageID, Kind: string(j.kind), Start: time.Now()}
	defer o.report(&rm)

	if !o.enter(j, StateInferring) {
		return
	}
	history := o.conv.History(j.messageID, o.opts.HistoryTurns)
	var candidates []goal.CandidateGoal
	inferErr := rm.Track(string(goal.StageInfer), func() (int, error) {
		var err error
		candidates, err = o.stages.Infer.Infer(context.Background(), j.text, history)
		return len(candidates), err
	})
	if !o.commit(j, func() {
		o.stream.Publish(events.TypeGoalsInferred, events.GoalsInferred{MessageID: j.messageID, Candidates: candidates})
		o.publishStageError(goal.StageInfer, inferErr)
	}) {
		return
	}

	if !j.settings.Merge {
		logger.Log.Debugw("merge disabled, discarding candidates", "conversation_id", o.conv.ID(), "message_id", j.messageID, "candidates", len(candidates))
		return
	}

	if !o.enter(j, StateMerging) {
		return
	}
	existing := o.conv.Goals()
	var res goal.MergeResult
	mergeErr := rm.Track(string(goal.StageMerge), func() (int, error) {
		var err error
		res, err = o.stages.Merge.Merge(context.Background(), candidates, existing, j.messageID)
		return len(res.Operations), err
	})
	o.commit(j, func() {
		applied := o.conv.ApplyMerge(j.messageID, res)
		o.stream.Publish(events.TypeGoalsUpdated, events.GoalsUpdated{
			MessageID:  j.messageID,
			Goals:      applied.Goals,
			Operations: applied.Operations,
		})
		o.publishStageError(goal.StageMerge, mergeErr)
	})
}

func (o *Orchestrator) runEvaluate(j job) {
	rm := metrics.RunMetrics{ConversationID: o.conv.ID(), MessageID: j.messageID, Kind: string(j.kind), Start: time.Now()}
	defer o.report(&rm)

	if !o.enter(j, StateEvaluating) {
		return
	}
	goals := o.conv.Goals()
	var evals []goal.Evaluation
	evalErr := rm.Track(string(goal.StageEvaluate), func() (int, error) {
		var err error
		evals, err = o.stages.Evaluate.Evaluate(context.Background(), j.text, goals)
		return len(evals), err
	})
	o.commit(j, func() {
		applied := o.conv.ApplyEvaluations(j.messageID, evals)
		o.stream.Publish(events.TypeGoalsEvaluated, events.GoalsEvaluated{
			MessageID:   j.messageID,
			Evaluations: applied,
			Goals:       o.conv.Goals(),
		})
		o.publishStageError(goal.StageEvaluate, evalErr)
	})
}

func (o *Orchestrator) publishStageError(st goal.Stage, err error) {
	if err == nil {
		return
	}
	logger.Log.Warnw("stage degraded", "conversation_id", o.conv.ID(), "stage", st, "error", err)
	o.stream.Publish(events.TypeError, errorEvent(string(st), err))
}

func (o *Orchestrator) report(rm *metrics.RunMetrics) {
	if len(rm.Stages) == 0 {
		return
	}
	rm.End = time.Now()
	rm.Finalize()
	logger.Log.Infow("pipeline run finished",
		"conversation_id", rm.ConversationID,
		"message_id", rm.MessageID,
		"kind", rm.Kind,
		"duration_ms", rm.DurationMs,
		"succeeded", rm.Succeeded())
	if o.opts.OnRun != nil {
		o.opts.OnRun(*rm)
	}
}

func errorEvent(stage string, err error) events.Error {
	return events.Error{Stage: stage, Kind: string(llm_client.KindOf(err)), Message: err.Error()}
}
