package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"atelier/internal/apperrors"
	"atelier/internal/changefeed"
	"atelier/internal/conversations"
	"atelier/internal/logging"
	"atelier/internal/middleware"
	"atelier/internal/models"
	"atelier/internal/observability"
)

// InboxWebSocketHandler serves the live inbox of the authenticated user.
type InboxWebSocketHandler struct {
	hub      *Hub
	svc      *conversations.Service
	feed     changefeed.Feed
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewInboxWebSocketHandler constructs an InboxWebSocketHandler.
func NewInboxWebSocketHandler(hub *Hub, svc *conversations.Service, feed changefeed.Feed) *InboxWebSocketHandler {
	return &InboxWebSocketHandler{
		hub:  hub,
		svc:  svc,
		feed: feed,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logging.NewPackageLogger("ws"),
	}
}

// Handle opens the viewer's inbox and upgrades the connection.
func (h *InboxWebSocketHandler) Handle(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
		return
	}

	ctx, span := otel.Tracer("atelier/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	inbox := conversations.NewInbox(userID, h.svc, h.feed)
	if err := inbox.Open(ctx); err != nil {
		span.RecordError(err)
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": apperrors.PublicMessage(err)})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		inbox.Close()
		return
	}
	client := newClient(conn, newConnInfo(c.Request, userID, span.SpanContext().TraceID().String()))
	h.hub.AddClient(client)

	observability.IncWSActive(kindInbox)
	observability.IncWSEvent(kindInbox, "ws_connect")
	h.logger.Info().Str("conn_id", client.info.ConnID).Str(logging.USER, userID).Msg("ws_connect")

	go h.serve(client, inbox)
}

func (h *InboxWebSocketHandler) serve(client *Client, inbox *conversations.Inbox) {
	ctx, cancel := context.WithCancel(context.Background())
	var closeReason string
	defer func() {
		cancel()
		inbox.Close()
		h.hub.RemoveClient(client)
		_ = client.conn.Close()
		observability.DecWSActive(kindInbox)
		observability.IncWSEvent(kindInbox, "ws_disconnect")
		h.logger.Info().Str("conn_id", client.info.ConnID).Str(logging.USER, client.info.UserID).Str("reason", closeReason).Msg("ws_disconnect")
	}()

	go h.push(ctx, client, inbox)

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.hub.reportWSError(client, err)
			}
			return
		}
		var cmd models.InboxCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.writeError(client, apperrors.InvalidOperation("malformed command"))
			continue
		}
		h.dispatch(ctx, client, inbox, cmd)
	}
}

// push sends the inbox, and the active thread if any, after every change.
func (h *InboxWebSocketHandler) push(ctx context.Context, client *Client, inbox *conversations.Inbox) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-inbox.Changed():
			if err := client.WriteJSON(models.InboxEvent{
				Type:          models.InboxEventConversations,
				Conversations: inbox.Conversations(),
			}); err != nil {
				return
			}
			if cp := inbox.ActiveThread(); cp != "" {
				if err := client.WriteJSON(threadEvent(cp, inbox.Thread(cp))); err != nil {
					return
				}
			}
		}
	}
}

func (h *InboxWebSocketHandler) dispatch(ctx context.Context, client *Client, inbox *conversations.Inbox, cmd models.InboxCommand) {
	observability.IncWSEvent(kindInbox, cmd.Type)

	var err error
	switch cmd.Type {
	case models.InboxCommandOpenThread:
		var thread []models.ThreadMessage
		thread, err = inbox.OpenThread(ctx, cmd.CounterpartID)
		if thread != nil {
			_ = client.WriteJSON(threadEvent(cmd.CounterpartID, thread))
		}
	case models.InboxCommandCloseThread:
		inbox.CloseThread()
	case models.InboxCommandMarkRead:
		_, err = inbox.MarkRead(ctx, cmd.CounterpartID)
	case models.InboxCommandSend:
		var msg models.ThreadMessage
		msg, err = inbox.SendMessage(ctx, cmd.CounterpartID, cmd.Content)
		if msg.CorrelationID != "" {
			_ = client.WriteJSON(models.InboxEvent{Type: models.InboxEventMessage, CounterpartID: cmd.CounterpartID, Message: &msg})
		}
	case models.InboxCommandRetry:
		var msg models.ThreadMessage
		msg, err = inbox.Retry(ctx, cmd.CorrelationID)
		if msg.CorrelationID != "" {
			_ = client.WriteJSON(models.InboxEvent{Type: models.InboxEventMessage, CounterpartID: msg.ReceiverID, Message: &msg})
		}
	case models.InboxCommandDiscard:
		err = inbox.Discard(cmd.CorrelationID)
	default:
		err = apperrors.InvalidOperation("unknown command " + cmd.Type)
	}
	if err != nil {
		h.writeError(client, err)
	}
}

func (h *InboxWebSocketHandler) writeError(client *Client, err error) {
	_ = client.WriteJSON(models.InboxEvent{
		Type:  models.InboxEventError,
		Code:  string(apperrors.CodeOf(err)),
		Error: apperrors.PublicMessage(err),
	})
}

func threadEvent(counterpart string, thread []models.ThreadMessage) models.InboxEvent {
	return models.InboxEvent{Type: models.InboxEventThread, CounterpartID: counterpart, Thread: thread}
}
