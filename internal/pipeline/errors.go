package pipeline

import (
	"errors"
	"fmt"

	"ongoal/internal/conversation"
	"ongoal/internal/goal"
	"ongoal/internal/llm_client"
)

var (
	// ErrPipelineBusy rejects a user message while a run is still in flight.
	ErrPipelineBusy = errors.New("pipeline busy")
	ErrClosed       = errors.New("orchestrator closed")
	ErrEmptyMessage = errors.New("message is empty")
	// ErrInvalidTransition is returned for a completion that does not match
	// the open assistant message.
	ErrInvalidTransition = conversation.ErrInvalidTransition
)

// StageError reports a degraded stage. The stage result is still usable.
type StageError struct {
	Stage goal.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name(), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Name is the failure name reported to observers.
func (e *StageError) Name() string {
	switch e.Stage {
	case goal.StageInfer:
		return "InferenceFailed"
	case goal.StageMerge:
		return "MergeFailed"
	case goal.StageEvaluate:
		return "EvaluationFailed"
	}
	return "StageFailed"
}

// Kind is the gateway failure kind behind the error, if any.
func (e *StageError) Kind() llm_client.ErrorKind {
	return llm_client.KindOf(e.Err)
}

func stageErr(st goal.Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: st, Err: err}
}
