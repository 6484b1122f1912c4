package web

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/feed"
	"livefeed-service/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512
)

// WebSocket message types
const (
	MessageSnapshot = "snapshot"
	MessageEvent    = "event"
	MessageError    = "error"
)

// SnapshotMessage is the first message on every viewer connection.
type SnapshotMessage struct {
	Type   string              `json:"type"`
	Match  *models.Match       `json:"match"`
	Events []*models.LiveEvent `json:"events"`
}

// EventMessage carries one committed update.
type EventMessage struct {
	Type  string            `json:"type"`
	Match *models.Match     `json:"match"`
	Event *models.LiveEvent `json:"event"`
}

// ErrorMessage is sent once before the server closes a failed feed.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Hub tracks open viewer connections so they can be counted and closed on
// shutdown.
type Hub struct {
	logger  common.Logger
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
}

// NewHub 创建新的Hub
func NewHub(logger common.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*Client]struct{}),
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("Viewer %s joined match %s. Total viewers: %d", c.ID, c.MatchID, len(h.clients))
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.logger.Debug("Viewer %s left match %s. Total viewers: %d", c.ID, c.MatchID, len(h.clients))
	}
}

// ClientCount returns the number of viewers on matchID, or on all matches
// when matchID is empty.
func (h *Hub) ClientCount(matchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if matchID == "" {
		return len(h.clients)
	}
	n := 0
	for c := range h.clients {
		if c.MatchID == matchID {
			n++
		}
	}
	return n
}

// CloseAll disconnects every viewer and refuses new ones.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Client WebSocket客户端. One client holds exactly one feed subscription,
// released when the connection ends for any reason.
type Client struct {
	ID      string
	MatchID string

	hub    *Hub
	conn   *websocket.Conn
	sub    *feed.Subscription
	logger common.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// handleWebSocket subscribes before upgrading so an unknown match is answered
// with a plain 404 instead of a dead socket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	matchID := strings.TrimSpace(r.URL.Query().Get("match_id"))
	if matchID == "" {
		s.writeError(w, r, common.NewValidationError("match_id", "is required"))
		return
	}

	sub, err := s.reader.Subscribe(r.Context(), matchID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed for match %s: %v", matchID, err)
		sub.Close()
		return
	}

	c := &Client{
		ID:      uuid.NewString(),
		MatchID: matchID,
		hub:     s.wsHub,
		conn:    conn,
		sub:     sub,
		logger:  s.logger,
		done:    make(chan struct{}),
	}
	if !s.wsHub.register(c) {
		c.close()
		return
	}

	go c.writePump()
	c.readPump()
}

// readPump only services control frames; viewers never send data. It returns
// when the peer goes away, which triggers cleanup.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Viewer %s unexpected close: %v", c.ID, err)
			}
			return
		}
	}
}

// writePump sends the snapshot, then every update, with heartbeats between.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	snapshot := c.sub.Snapshot()
	if err := c.write(SnapshotMessage{Type: MessageSnapshot, Match: snapshot.Match, Events: nonNil(snapshot.Events)}); err != nil {
		return
	}

	updates := c.sub.Updates()
	for {
		select {
		case <-c.done:
			return

		case update, ok := <-updates:
			if !ok {
				if err := c.sub.Err(); err != nil {
					c.write(ErrorMessage{Type: MessageError, Error: common.Category(err)})
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseTryAgainLater, common.UserMessage(err)))
				}
				return
			}
			if err := c.write(EventMessage{Type: MessageEvent, Match: update.Match, Event: update.Event}); err != nil {
				c.logger.Debug("Viewer %s write error: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(msg interface{}) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// close is safe to call from either pump and from the hub.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sub.Close()
		c.conn.Close()
		c.hub.unregister(c)
	})
}

func nonNil(events []*models.LiveEvent) []*models.LiveEvent {
	if events == nil {
		return []*models.LiveEvent{}
	}
	return events
}
