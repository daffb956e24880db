package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/planning-poker/backend/internal/models"
	"github.com/planning-poker/backend/internal/sessions"
	"github.com/planning-poker/backend/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one WebSocket connection bound to a session. Its ID doubles as
// the member identifier inside the session.
type Client struct {
	ID        string
	SessionID uuid.UUID
	session   *models.Session
	hub       *Hub
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop. A missing,
// malformed or unknown session_id rejects the request before the upgrade, so
// the connection never becomes a member.
func ServeWs(hub *Hub, repo *sessions.Repository, deck []string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		if sessionIDStr == "" {
			response.BadRequest(c, "session_id required")
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			response.BadRequest(c, "invalid session_id")
			return
		}
		session, err := repo.Get(sessionID)
		if err != nil {
			response.NotFound(c, err.Error())
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			session:   session,
			hub:       hub,
			conn:      conn,
			send:      make(chan WSMessage, 256),
			logger:    logger,
		}
		session.AddMember(client.ID)
		hub.Register(client)
		go client.writePump()
		client.sendSnapshot(deck)
		client.readPump()
	}
}

// sendSnapshot delivers the join-time state to this client only: the session
// id, the configured deck, the story list, the current selection, the current
// round and the history.
func (c *Client) sendSnapshot(deck []string) {
	c.queue(models.EventSessionID, c.SessionID.String())
	c.queue(models.EventDeck, deck)
	c.queue(models.EventStoryList, c.session.Stories())
	c.queue(models.EventSelectedStory, gin.H{"storyId": c.session.SelectedStoryID()})
	c.queue(models.EventUpdate, c.session.TallyPayload())
	c.queue(models.EventHistory, c.session.History())
}

func (c *Client) readPump() {
	defer func() {
		payload := c.session.RemoveMember(c.ID)
		c.hub.Unregister(c)
		c.hub.BroadcastToSession(c.SessionID, models.EventUpdate, payload)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.handleEvent(msg)
	}
}

// handleEvent dispatches one inbound event: mutate the session, then fan the
// resulting state out. Invalid operations answer only the offending client
// with an error event.
func (c *Client) handleEvent(msg WSMessage) {
	switch msg.Event {
	case models.EventVote:
		var p struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			c.queueError("invalid vote payload")
			return
		}
		c.hub.BroadcastToSession(c.SessionID, models.EventUpdate, c.session.CastVote(c.ID, p.Value))

	case models.EventSelectStory:
		var p struct {
			StoryID string `json:"storyId"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			c.queueError("invalid selectStory payload")
			return
		}
		storyID, err := uuid.Parse(p.StoryID)
		if err != nil {
			c.queueError("invalid story id")
			return
		}
		payload, err := c.session.SelectStory(storyID)
		if err != nil {
			c.queueError(err.Error())
			return
		}
		c.hub.BroadcastToSession(c.SessionID, models.EventSelectedStory, gin.H{"storyId": storyID})
		c.hub.BroadcastToSession(c.SessionID, models.EventUpdate, payload)

	case models.EventAddStory:
		var p struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			c.queueError("invalid addStory payload")
			return
		}
		if _, err := c.session.AddStory(p.Title, p.Description); err != nil {
			c.queueError(err.Error())
			return
		}
		c.hub.BroadcastToSession(c.SessionID, models.EventStoryList, c.session.Stories())

	case models.EventReveal:
		payload, historyChanged := c.session.Reveal()
		c.hub.BroadcastToSession(c.SessionID, models.EventUpdate, payload)
		if historyChanged {
			c.hub.BroadcastToSession(c.SessionID, models.EventHistory, c.session.History())
		}

	case models.EventResetMine:
		c.hub.BroadcastToSession(c.SessionID, models.EventUpdate, c.session.ResetVote(c.ID))

	case models.EventResetAll:
		c.hub.BroadcastToSession(c.SessionID, models.EventUpdate, c.session.ResetAll())

	default:
		// ignore
	}
}

// queue enqueues a message to this client only, dropping it if the buffer
// is full.
func (c *Client) queue(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
	}
}

func (c *Client) queueError(message string) {
	c.queue(models.EventError, gin.H{"message": message})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
