package server

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// outboxSize bounds each connection's pending event queue.
const outboxSize = 32

const writeTimeout = 5 * time.Second

// client is the sending half of one live WebSocket connection. The read
// loop owns conn.Read; everyone else talks to the connection through the
// outbox, drained by a single writer goroutine.
type client struct {
	connID   string
	playerID string // guarded by the hub mutex
	conn     *websocket.Conn
	out      chan []byte
}

func newClient(connID string, conn *websocket.Conn) *client {
	return &client{
		connID: connID,
		conn:   conn,
		out:    make(chan []byte, outboxSize),
	}
}

// send queues data without blocking. A client that cannot drain its
// outbox loses messages; that is safe because every broadcast is a full
// snapshot and resync recovers anything missed.
func (c *client) send(data []byte) {
	if data == nil {
		return
	}
	select {
	case c.out <- data:
	default:
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// kick starts the close handshake; the connection's read loop observes
// it and unwinds through the normal cleanup path.
func (c *client) kick(reason string) {
	c.conn.Close(websocket.StatusNormalClosure, reason)
}

// Hub fans outbound events to the connections of a session. Sends never
// block and never fail; delivery is best-effort.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[*client]struct{})}
}

// Join adds the connection to a session's fan-out set and records which
// player it speaks for, so private events can find it.
func (h *Hub) Join(sessionID string, c *client, playerID string) {
	h.mu.Lock()
	c.playerID = playerID
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[*client]struct{})
	}
	h.sessions[sessionID][c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) Leave(sessionID string, c *client) {
	h.mu.Lock()
	if set := h.sessions[sessionID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.sessions, sessionID)
		}
	}
	h.mu.Unlock()
}

// Broadcast queues an event for every connection in the session.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	h.mu.RLock()
	for c := range h.sessions[sessionID] {
		c.send(data)
	}
	h.mu.RUnlock()
}

// SendToPlayer queues an event for the connections bound to one player.
func (h *Hub) SendToPlayer(sessionID, playerID string, data []byte) {
	h.mu.RLock()
	for c := range h.sessions[sessionID] {
		if c.playerID == playerID {
			c.send(data)
		}
	}
	h.mu.RUnlock()
}

// CloseSession delivers a final event to every connection in the
// session and then evicts them all. The farewell is written directly
// rather than queued so it cannot race the close.
func (h *Hub) CloseSession(sessionID string, data []byte, reason string) {
	h.mu.Lock()
	set := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	h.mu.Unlock()

	for c := range set {
		if data != nil {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			_ = c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
		}
		c.kick(reason)
	}
}
