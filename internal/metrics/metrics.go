package metrics

import "time"

type StageMetrics struct {
	Stage      string    `json:"stage"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Err        string    `json:"err,omitempty"`
	// Items is the number of candidates, operations or evaluations produced.
	Items int `json:"items"`
}

// RunMetrics describes one pass of the goal pipeline for a message.
type RunMetrics struct {
	ConversationID string         `json:"conversation_id"`
	MessageID      string         `json:"message_id"`
	Kind           string         `json:"kind"`
	Start          time.Time      `json:"start"`
	End            time.Time      `json:"end"`
	DurationMs     int64          `json:"duration_ms"`
	Stages         []StageMetrics `json:"stages"`
}

// Compute derived fields for a stage.
func (s *StageMetrics) Finalize() {
	s.DurationMs = s.End.Sub(s.Start).Milliseconds()
}

func (r *RunMetrics) Finalize() {
	r.DurationMs = r.End.Sub(r.Start).Milliseconds()
}

// Succeeded reports whether every recorded stage succeeded.
func (r RunMetrics) Succeeded() bool {
	for _, s := range r.Stages {
		if !s.Success {
			return false
		}
	}
	return true
}

// Track runs fn as a named stage and appends its timing to r.
func (r *RunMetrics) Track(stage string, fn func() (int, error)) error {
	sm := StageMetrics{Stage: stage, Start: time.Now()}
	n, err := fn()
	sm.End = time.Now()
	sm.Items = n
	sm.Success = err == nil
	if err != nil {
		sm.Err = err.Error()
	}
	sm.Finalize()
	r.Stages = append(r.Stages, sm)
	return err
}
