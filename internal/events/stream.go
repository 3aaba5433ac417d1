package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"ongoal/internal/logger"
)

const DefaultBuffer = 256

// Subscription is the current observer of a Stream. C is closed when the
// observer is replaced, falls too far behind, or the stream closes.
type Subscription struct {
	ID string
	C  <-chan Event

	ch     chan Event
	closed bool
}

// Stream is the ordered outbound event sequence of one conversation.
// It delivers to a single current observer; a new subscriber replaces the
// old one and starts from a state snapshot instead of a replayed log.
type Stream struct {
	mu             sync.Mutex
	conversationID string
	seq            uint64
	buffer         int
	sub            *Subscription
	closed         bool
	now            func() time.Time
}

func NewStream(conversationID string, buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Stream{
		conversationID: conversationID,
		buffer:         buffer,
		now:            time.Now,
	}
}

// Publish stamps and delivers an event. It never blocks: an observer whose
// buffer is full is dropped and must resubscribe to get a fresh snapshot.
func (s *Stream) Publish(typ Type, data any) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishLocked(typ, data)
}

func (s *Stream) publishLocked(typ Type, data any) Event {
	s.seq++
	ev := Event{
		Seq:            s.seq,
		Type:           typ,
		ConversationID: s.conversationID,
		At:             s.now(),
		Data:           data,
	}
	if s.sub == nil || s.closed {
		return ev
	}
	select {
	case s.sub.ch <- ev:
	default:
		logger.Log.Warnw("observer lagging, dropping subscription",
			"conversation_id", s.conversationID, "observer", s.sub.ID, "seq", ev.Seq)
		s.closeSub(s.sub)
		s.sub = nil
	}
	return ev
}

// Subscribe replaces the current observer. snapshot is called with the
// stream locked, so no event published after it is missed.
func (s *Stream) Subscribe(snapshot func() any) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, s.buffer)
	sub := &Subscription{ID: uuid.New().String()[:8], C: ch, ch: ch}
	if s.closed {
		close(ch)
		sub.closed = true
		return sub
	}
	if s.sub != nil {
		s.closeSub(s.sub)
	}
	s.sub = sub
	if snapshot != nil {
		s.publishLocked(TypeConversationState, snapshot())
	}
	return sub
}

func (s *Stream) Unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == sub {
		s.sub = nil
	}
	s.closeSub(sub)
}

// Close ends the stream and the current subscription.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.sub != nil {
		s.closeSub(s.sub)
		s.sub = nil
	}
}

func (s *Stream) closeSub(sub *Subscription) {
	if sub == nil || sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
}
