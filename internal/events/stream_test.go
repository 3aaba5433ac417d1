package events

import "testing"

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestStreamOrdering(t *testing.T) {
	s := NewStream("c1", 8)
	sub := s.Subscribe(func() any { return "snapshot" })

	s.Publish(TypeGoalsInferred, GoalsInferred{MessageID: "m1"})
	s.Publish(TypeGoalsUpdated, GoalsUpdated{MessageID: "m1"})

	got := drain(sub)
	if len(got) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(got))
	}
	wantTypes := []Type{TypeConversationState, TypeGoalsInferred, TypeGoalsUpdated}
	for i, ev := range got {
		if ev.Type != wantTypes[i] {
			t.Errorf("Event %d: expected %s, got %s", i, wantTypes[i], ev.Type)
		}
		if ev.ConversationID != "c1" {
			t.Errorf("Event %d: expected conversation c1, got %q", i, ev.ConversationID)
		}
		if i > 0 && ev.Seq <= got[i-1].Seq {
			t.Errorf("Sequence numbers must increase: %d after %d", ev.Seq, got[i-1].Seq)
		}
	}
}

func TestSubscribeReplacesObserver(t *testing.T) {
	s := NewStream("c1", 8)
	first := s.Subscribe(nil)
	second := s.Subscribe(nil)

	if _, ok := <-first.C; ok {
		t.Errorf("Expected the first subscription to be closed")
	}

	s.Publish(TypeError, Error{Stage: "infer", Message: "boom"})
	got := drain(second)
	if len(got) != 1 || got[0].Type != TypeError {
		t.Errorf("Expected the new observer to receive the error event, got %+v", got)
	}
}

func TestLaggingObserverIsDropped(t *testing.T) {
	s := NewStream("c1", 2)
	sub := s.Subscribe(nil)

	for i := 0; i < 5; i++ {
		s.Publish(TypeResponseChunk, ResponseChunk{MessageID: "m2", Text: "x"})
	}

	got := drain(sub)
	if len(got) != 2 {
		t.Errorf("Expected the buffered events to remain readable, got %d", len(got))
	}
	if _, ok := <-sub.C; ok {
		t.Errorf("Expected the lagging subscription to be closed")
	}
}

func TestClose(t *testing.T) {
	s := NewStream("c1", 2)
	sub := s.Subscribe(nil)
	s.Close()

	if _, ok := <-sub.C; ok {
		t.Errorf("Expected subscription to close with the stream")
	}
	late := s.Subscribe(nil)
	if _, ok := <-late.C; ok {
		t.Errorf("Expected subscriptions on a closed stream to be closed")
	}
	// Publishing after close must not panic.
	s.Publish(TypeError, Error{Stage: "merge"})
}
