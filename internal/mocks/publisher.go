package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"atelier/internal/telemetry"
)

// PublisherMock records published domain events.
type PublisherMock struct {
	mock.Mock
}

var _ telemetry.Publisher = (*PublisherMock)(nil)

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Envelopes returns the envelopes published under routingKey, in call order.
func (m *PublisherMock) Envelopes(routingKey string) []telemetry.EventEnvelope {
	var out []telemetry.EventEnvelope
	for _, call := range m.Calls {
		if call.Method != "Publish" || call.Arguments.String(1) != routingKey {
			continue
		}
		if envelope, ok := call.Arguments.Get(2).(telemetry.EventEnvelope); ok {
			out = append(out, envelope)
		}
	}
	return out
}
