package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"atelier/internal/changefeed"
	"atelier/internal/logging"
	"atelier/internal/models"
	"atelier/internal/observability"
)

const (
	kindInbox = "inbox"
	writeWait = 10 * time.Second
)

// Client is one websocket connection. Writes are serialized.
type Client struct {
	conn *websocket.Conn
	info ConnInfo
	mu   sync.Mutex
}

func newClient(conn *websocket.Conn, info ConnInfo) *Client {
	return &Client{conn: conn, info: info}
}

// WriteJSON sends v as one text frame.
func (c *Client) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Hub tracks open inbox sockets per user.
type Hub struct {
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logging.NewPackageLogger("ws"),
	}
}

// AddClient registers a connection for its user.
func (h *Hub) AddClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	userID := c.info.UserID
	if _, ok := h.clients[userID]; !ok {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][c] = struct{}{}
}

// RemoveClient removes a connection.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	userID := c.info.UserID
	if conns, ok := h.clients[userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, userID)
		}
	}
}

// Connected is the number of open sockets of userID.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// SendToUser writes event to every socket of userID. Sockets that fail are
// closed and dropped.
func (h *Hub) SendToUser(userID string, event models.InboxEvent) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.WriteJSON(event); err != nil {
			h.RemoveClient(c)
			_ = c.conn.Close()
			h.reportWSError(c, err)
			continue
		}
		observability.IncWSEvent(kindInbox, event.Type)
	}
}

// Run pushes connection changes to the sockets of both users of each row
// until ctx is done.
func (h *Hub) Run(ctx context.Context, feed changefeed.Feed) error {
	events, err := feed.Subscribe(ctx, models.TableConnections)
	if err != nil {
		return err
	}
	for ev := range events {
		if ev.Type == models.ChangeResync {
			continue
		}
		conn, err := ev.Connection()
		if err != nil {
			h.logger.Error().Err(err).Str(logging.EVENT, string(ev.Type)).Msg("undecodable connection change")
			continue
		}
		for _, userID := range []string{conn.SenderID, conn.ReceiverID} {
			view := models.ViewFor(conn, userID)
			h.SendToUser(userID, models.InboxEvent{
				Type:       models.InboxEventConnection,
				Connection: &view,
				Removed:    ev.Type == models.ChangeDelete,
			})
		}
	}
	return ctx.Err()
}

func (h *Hub) reportWSError(c *Client, err error) {
	h.logger.Warn().Err(err).
		Str("conn_id", c.info.ConnID).
		Str(logging.USER, c.info.UserID).
		Str("device_id", c.info.DeviceID).
		Str("ip", c.info.IP).
		Str("request_id", c.info.RequestID).
		Str("trace_id", c.info.TraceID).
		Int64("duration_ms", time.Since(c.info.ConnectedAt).Milliseconds()).
		Msg("ws_error")
	observability.IncWSEvent(kindInbox, "ws_error")
}
