package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"atelier/internal/logging"
	"atelier/internal/observability"
	"atelier/internal/telemetry"
)

var logger = logging.NewPackageLogger("rabbitmq")

// Publisher publishes domain events.
type Publisher = telemetry.Publisher

// channel is the part of *amqp.Channel used to publish.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// NewPublisher connects to amqpURL and declares exchange as a durable topic
// exchange. Without a URL, or when the broker is unreachable, events are
// only logged.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		return newNoop("empty amqp url")
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return newNoop(err.Error())
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return newNoop(err.Error())
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return newNoop(err.Error())
	}

	logger.Info().Str("exchange", exchange).Msg("rabbitmq connected")
	p := newEventPublisher(ch, exchange)
	p.conn = conn
	return p
}

func newEventPublisher(ch channel, exchange string) *eventPublisher {
	return &eventPublisher{ch: ch, exchange: exchange, now: time.Now}
}

// eventPublisher sends JSON envelopes as persistent messages. Envelope
// metadata is copied into the AMQP properties so consumers can route on it
// without decoding the body.
type eventPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
	now      func() time.Time
}

func (p *eventPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now().UTC(),
		Body:         body,
	}
	if envelope, ok := envelopeOf(event); ok {
		msg.Type = envelope.EventType
		msg.AppId = envelope.Service
		msg.CorrelationId = envelope.RequestID
	}

	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		observability.IncAMQPPublishError()
		logger.Error().Err(err).Str("routing_key", routingKey).Str(logging.EVENT, msg.Type).Msg("rabbitmq publish failed")
	}
	return err
}

func (p *eventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func envelopeOf(event any) (telemetry.EventEnvelope, bool) {
	switch e := event.(type) {
	case telemetry.EventEnvelope:
		return e, true
	case *telemetry.EventEnvelope:
		if e != nil {
			return *e, true
		}
	}
	return telemetry.EventEnvelope{}, false
}

func newNoop(reason string) noopPublisher {
	logger.Warn().Str("reason", reason).Msg("rabbitmq disabled, using noop")
	return noopPublisher{reason: reason}
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	entry := logger.Debug().Str("routing_key", routingKey)
	if envelope, ok := envelopeOf(event); ok {
		entry = entry.Str(logging.EVENT, envelope.EventType).Str("request_id", envelope.RequestID)
	}
	entry.Msg("rabbitmq noop publish")
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports "amqp" or "noop" for startup logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *eventPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason is the reason AMQP was disabled, or "".
func PublisherNoopReason(p Publisher) string {
	if noop, ok := p.(noopPublisher); ok {
		return noop.reason
	}
	return ""
}
