package changefeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"atelier/internal/db"
	"atelier/internal/logging"
	"atelier/internal/models"
)

// PGListener forwards Postgres row-change notifications into a Broker.
type PGListener struct {
	dsn    string
	broker *Broker
	logger zerolog.Logger

	minReconnect time.Duration
	maxReconnect time.Duration
	pingInterval time.Duration
}

// NewPGListener builds a listener for the row trigger channel.
func NewPGListener(dsn string, broker *Broker) *PGListener {
	return &PGListener{
		dsn:          dsn,
		broker:       broker,
		logger:       logging.NewPackageLogger("changefeed").With().Str(logging.COMPONENT, "pglistener").Logger(),
		minReconnect: 2 * time.Second,
		maxReconnect: time.Minute,
		pingInterval: 90 * time.Second,
	}
}

// Run listens until ctx is cancelled.
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, l.minReconnect, l.maxReconnect, l.reportProblem)
	defer listener.Close()

	if err := listener.Listen(db.ChangeChannel); err != nil {
		return err
	}
	l.logger.Info().Str("channel", db.ChangeChannel).Msg("listening for row changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			l.dispatch(n)
		case <-time.After(l.pingInterval):
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.Warn().Err(err).Msg("listener ping failed")
				}
			}()
		}
	}
}

// dispatch forwards one notification to the broker.
func (l *PGListener) dispatch(n *pq.Notification) {
	if n == nil {
		// pq sends nil after re-establishing the connection;
		// notifications sent while disconnected are lost.
		l.broker.Resync()
		return
	}
	event, err := decodeNotification(n.Extra)
	if err != nil {
		l.logger.Warn().Err(err).Msg("dropping malformed change notification")
		return
	}
	l.broker.Publish(event)
}

func (l *PGListener) reportProblem(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
		l.logger.Warn().Err(err).Int("event", int(ev)).Msg("change listener connection problem")
	case pq.ListenerEventReconnected:
		l.logger.Info().Msg("change listener reconnected")
	}
}

func decodeNotification(payload string) (models.ChangeEvent, error) {
	var event models.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return models.ChangeEvent{}, err
	}
	return event, nil
}
