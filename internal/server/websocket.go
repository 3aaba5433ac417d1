package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"ongoal/internal/events"
	"ongoal/internal/goal"
	"ongoal/internal/logger"
	"ongoal/internal/supervisor"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// DefaultConversation is used by /ws without an id.
	DefaultConversation = "default"
)

// Inbound frame types.
const (
	msgUserMessage     = "user_message"
	msgTogglePipeline  = "toggle_pipeline"
	msgGetConversation = "get_conversation"
)

type inbound struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Stage   string `json:"stage"`
	Enabled bool   `json:"enabled"`
}

// client is one websocket connection observing one conversation.
type client struct {
	srv    *Server
	conn   *websocket.Conn
	sess   *supervisor.Session
	sub    *events.Subscription
	direct chan events.Event

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.allowedOrigin(r.Header.Get("Origin"))
		},
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if id == "" {
		id = DefaultConversation
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warnw("websocket upgrade failed", "conversation_id", id, "error", err)
		return
	}

	sess := s.sup.GetOrCreate(id)
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		srv:    s,
		conn:   conn,
		sess:   sess,
		direct: make(chan events.Event, 16),
		ctx:    ctx,
		cancel: cancel,
	}
	// Subscribing sends the conversation snapshot first.
	c.sub = sess.Orchestrator.Subscribe()
	logger.Log.Infow("websocket connected", "conversation_id", id, "observer", c.sub.ID)

	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.sess.Orchestrator.Unsubscribe(c.sub)
		c.cancel()
		c.conn.Close()
		logger.Log.Infow("websocket disconnected", "conversation_id", c.sess.ID, "observer", c.sub.ID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Warnw("websocket read error", "conversation_id", c.sess.ID, "error", err)
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("request", badRequest("invalid JSON frame"))
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg inbound) {
	id := c.sess.ID
	switch msg.Type {
	case msgUserMessage:
		// Submit synchronously so a busy pipeline is reported right away;
		// the reply streams in the background.
		user, err := c.srv.sup.SubmitUserMessage(c.ctx, id, msg.Message)
		if err != nil {
			c.sendError("request", err)
			return
		}
		go func() {
			if _, err := c.srv.sup.Respond(c.ctx, id); err != nil {
				logger.Log.Warnw("reply failed", "conversation_id", id, "message_id", user.ID, "error", err)
				c.sendError(supervisor.StageRespond, err)
			}
		}()

	case msgTogglePipeline:
		st, ok := goal.ParseStage(msg.Stage)
		if !ok {
			c.sendError("request", badRequest("unknown stage "+msg.Stage))
			return
		}
		if _, err := c.srv.sup.SetPipelineStage(id, st, msg.Enabled); err != nil {
			c.sendError("request", err)
		}

	case msgGetConversation:
		c.sess.Orchestrator.PublishState()

	default:
		c.sendError("request", badRequest("unknown message type "+msg.Type))
	}
}

// sendError answers the client directly; request errors are not part of the
// conversation's event stream.
func (c *client) sendError(stage string, err error) {
	ev := events.Event{
		Type:           events.TypeError,
		ConversationID: c.sess.ID,
		At:             time.Now(),
		Data:           events.Error{Stage: stage, Kind: errorKind(err), Message: err.Error()},
	}
	select {
	case c.direct <- ev:
	case <-c.ctx.Done():
	default:
		logger.Log.Warnw("dropping error frame", "conversation_id", c.sess.ID, "error", err)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.sub.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Replaced by a newer observer, too slow, or the conversation closed.
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "observer replaced"))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}

		case ev := <-c.direct:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
