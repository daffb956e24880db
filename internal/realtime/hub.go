package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains session_id -> set of connections and fans events out to
// exactly the members of one session. Delivery is best-effort: a client whose
// send buffer is full misses the message rather than blocking the mutation.
type Hub struct {
	// sessionID -> map[connID]*Client
	sessions map[uuid.UUID]map[string]*Client
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Client),
		logger:   logger,
	}
}

// Register adds a client to its session's room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
	}
	h.sessions[c.SessionID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined session",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID.String()),
	)
}

// Unregister removes a client from its session's room.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.sessions, c.SessionID)
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client left session",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID.String()),
	)
}

// BroadcastToSession sends an event to every client in a session.
func (h *Hub) BroadcastToSession(sessionID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}

	// Snapshot the recipients before sending: Register and Unregister mutate
	// the session map concurrently, and iterating it outside the lock races
	// with them.
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}
