package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"atelier/internal/mocks"
	"atelier/internal/models"
	"atelier/internal/telemetry"
)

func TestEmitterConnectionRequested(t *testing.T) {
	pub := &mocks.PublisherMock{}
	pub.On("Publish", mock.Anything, telemetry.RoutingConnectionRequested, mock.AnythingOfType("telemetry.EventEnvelope")).
		Return(nil).Once()

	emitter := telemetry.NewEmitter(pub, "atelier", "test")
	ctx := telemetry.WithRequestID(context.Background(), "req-1")
	emitter.ConnectionRequested(ctx, models.Connection{ID: "c1", SenderID: "a", ReceiverID: "b", Status: models.ConnectionPending})

	pub.AssertExpectations(t)
	envelopes := pub.Envelopes(telemetry.RoutingConnectionRequested)
	require.Len(t, envelopes, 1)
	got := envelopes[0]
	assert.Equal(t, telemetry.EventConnectionRequested, got.EventType)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "a", got.ActorID)
	assert.Equal(t, 1, got.SchemaVersion)
	payload, ok := got.Payload.(telemetry.ConnectionPayload)
	require.True(t, ok)
	assert.Equal(t, "c1", payload.ConnectionID)
	assert.Equal(t, models.ConnectionPending, payload.Status)
}

func TestEmitterAcceptedActorIsReceiver(t *testing.T) {
	pub := &mocks.PublisherMock{}
	pub.On("Publish", mock.Anything, telemetry.RoutingConnectionAccepted, mock.MatchedBy(func(e telemetry.EventEnvelope) bool {
		return e.ActorID == "b" && e.EventType == telemetry.EventConnectionAccepted
	})).Return(nil).Once()

	telemetry.NewEmitter(pub, "atelier", "test").
		ConnectionAccepted(context.Background(), models.Connection{ID: "c1", SenderID: "a", ReceiverID: "b", Status: models.ConnectionAccepted})
	pub.AssertExpectations(t)
}

func TestEmitterMessagesReadSkipsZero(t *testing.T) {
	pub := &mocks.PublisherMock{}
	emitter := telemetry.NewEmitter(pub, "atelier", "test")
	emitter.MessagesRead(context.Background(), "a", "b", 0)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)

	pub.On("Publish", mock.Anything, telemetry.RoutingMessagesRead, mock.Anything).Return(nil).Once()
	emitter.MessagesRead(context.Background(), "a", "b", 3)
	pub.AssertExpectations(t)
}

func TestEmitterSwallowsPublishErrors(t *testing.T) {
	pub := &mocks.PublisherMock{}
	pub.On("Publish", mock.Anything, telemetry.RoutingMessageSent, mock.Anything).Return(errors.New("broker down")).Once()

	assert.NotPanics(t, func() {
		telemetry.NewEmitter(pub, "atelier", "test").MessageSent(context.Background(), models.Message{ID: "m1", SenderID: "a", ReceiverID: "b", CreatedAt: time.Now()})
	})
	pub.AssertExpectations(t)
}

func TestNilEmitterIsSafe(t *testing.T) {
	var emitter *telemetry.Emitter
	assert.NotPanics(t, func() {
		emitter.MessageSent(context.Background(), models.Message{ID: "m1"})
	})
}

func TestRequestIDRoundTrip(t *testing.T) {
	assert.Equal(t, "", telemetry.RequestIDFromContext(context.Background()))
	assert.Equal(t, "r", telemetry.RequestIDFromContext(telemetry.WithRequestID(context.Background(), "r")))
	assert.Equal(t, context.Background(), telemetry.WithRequestID(context.Background(), ""))
}
