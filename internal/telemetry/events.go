package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"atelier/internal/logging"
	"atelier/internal/models"
)

// Publisher delivers an event to the broker under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Event types and their routing keys on the topic exchange.
const (
	EventConnectionRequested = "connection.requested"
	EventConnectionAccepted  = "connection.accepted"
	EventConnectionRejected  = "connection.rejected"
	EventMessageSent         = "message.sent"
	EventMessagesRead        = "messages.read"

	RoutingConnectionRequested = "connections.requested"
	RoutingConnectionAccepted  = "connections.accepted"
	RoutingConnectionRejected  = "connections.rejected"
	RoutingMessageSent         = "messages.sent"
	RoutingMessagesRead        = "messages.read"
)

// EventEnvelope is the JSON body of every published domain event.
type EventEnvelope struct {
	SchemaVersion int    `json:"schema_version"`
	EventType     string `json:"event_type"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	Environment   string `json:"environment"`
	RequestID     string `json:"request_id,omitempty"`
	ActorID       string `json:"actor_id,omitempty"`
	Payload       any    `json:"payload"`
}

// ConnectionPayload describes a connection row after a write.
type ConnectionPayload struct {
	ConnectionID string                  `json:"connection_id"`
	SenderID     string                  `json:"sender_id"`
	ReceiverID   string                  `json:"receiver_id"`
	Status       models.ConnectionStatus `json:"status"`
}

// MessagePayload describes a stored message. Content is not published.
type MessagePayload struct {
	MessageID  string    `json:"message_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReadPayload describes a bulk mark-as-read.
type ReadPayload struct {
	ReaderID string `json:"reader_id"`
	SenderID string `json:"sender_id"`
	Count    int64  `json:"count"`
}

// Emitter publishes domain events. A nil Emitter drops everything.
type Emitter struct {
	publisher   Publisher
	service     string
	environment string
	now         func() time.Time
	logger      zerolog.Logger
}

// NewEmitter constructs an Emitter.
func NewEmitter(publisher Publisher, service, environment string) *Emitter {
	return &Emitter{
		publisher:   publisher,
		service:     service,
		environment: environment,
		now:         time.Now,
		logger:      logging.NewPackageLogger("telemetry"),
	}
}

// ConnectionRequested is emitted after a request row is created or revived.
func (e *Emitter) ConnectionRequested(ctx context.Context, c models.Connection) {
	e.emit(ctx, RoutingConnectionRequested, EventConnectionRequested, c.SenderID, connectionPayload(c))
}

// ConnectionAccepted is emitted after pending -> accepted.
func (e *Emitter) ConnectionAccepted(ctx context.Context, c models.Connection) {
	e.emit(ctx, RoutingConnectionAccepted, EventConnectionAccepted, c.ReceiverID, connectionPayload(c))
}

// ConnectionRejected is emitted after pending -> rejected.
func (e *Emitter) ConnectionRejected(ctx context.Context, c models.Connection) {
	e.emit(ctx, RoutingConnectionRejected, EventConnectionRejected, c.ReceiverID, connectionPayload(c))
}

// MessageSent is emitted after a message row is stored.
func (e *Emitter) MessageSent(ctx context.Context, m models.Message) {
	e.emit(ctx, RoutingMessageSent, EventMessageSent, m.SenderID, MessagePayload{
		MessageID:  m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		CreatedAt:  m.CreatedAt,
	})
}

// MessagesRead is emitted when a mark-as-read flipped at least one row.
func (e *Emitter) MessagesRead(ctx context.Context, readerID, senderID string, count int64) {
	if count == 0 {
		return
	}
	e.emit(ctx, RoutingMessagesRead, EventMessagesRead, readerID, ReadPayload{
		ReaderID: readerID,
		SenderID: senderID,
		Count:    count,
	})
}

func connectionPayload(c models.Connection) ConnectionPayload {
	return ConnectionPayload{
		ConnectionID: c.ID,
		SenderID:     c.SenderID,
		ReceiverID:   c.ReceiverID,
		Status:       c.Status,
	}
}

func (e *Emitter) emit(ctx context.Context, routingKey, eventType, actorID string, payload any) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := EventEnvelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     RequestIDFromContext(ctx),
		ActorID:       actorID,
		Payload:       payload,
	}
	if err := e.publisher.Publish(ctx, routingKey, envelope); err != nil {
		e.logger.Warn().Err(err).Str(logging.EVENT, eventType).Str("request_id", envelope.RequestID).Msg("event publish failed")
	}
}
