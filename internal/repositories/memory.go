package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"atelier/internal/models"
)

// EventSink receives row changes written by the in-memory store.
type EventSink interface {
	Publish(event models.ChangeEvent)
}

// MemoryStore is an in-process implementation of ConnectionRepository and
// MessageRepository. It enforces the same pair uniqueness as the Postgres
// schema and emits change events like the row triggers do.
type MemoryStore struct {
	mu          sync.Mutex
	connections map[string]models.Connection
	pairs       map[string]string
	messages    map[string]models.Message
	sink        EventSink
	now         func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithEventSink publishes every write to sink.
func WithEventSink(sink EventSink) MemoryOption {
	return func(s *MemoryStore) { s.sink = sink }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore builds an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		connections: make(map[string]models.Connection),
		pairs:       make(map[string]string),
		messages:    make(map[string]models.Message),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) emit(table string, typ models.ChangeType, row any) {
	if s.sink == nil {
		return
	}
	event, err := models.NewChangeEvent(table, typ, row)
	if err != nil {
		return
	}
	s.sink.Publish(event)
}

// FindByPair implements ConnectionRepository.
func (s *MemoryStore) FindByPair(ctx context.Context, userA, userB string) (models.Connection, error) {
	if err := ctx.Err(); err != nil {
		return models.Connection{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pairs[models.PairKey(userA, userB)]
	if !ok {
		return models.Connection{}, ErrConnectionNotFound
	}
	return s.connections[id], nil
}

// GetConnection implements ConnectionRepository.
func (s *MemoryStore) GetConnection(ctx context.Context, id string) (models.Connection, error) {
	if err := ctx.Err(); err != nil {
		return models.Connection{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.connections[id]
	if !ok {
		return models.Connection{}, ErrConnectionNotFound
	}
	return conn, nil
}

// UpsertRequest implements ConnectionRepository.
func (s *MemoryStore) UpsertRequest(ctx context.Context, senderID, receiverID string) (models.Connection, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Connection{}, false, err
	}
	var events []func()
	defer func() {
		for _, e := range events {
			e()
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.PairKey(senderID, receiverID)
	if id, ok := s.pairs[key]; ok {
		existing := s.connections[id]
		if existing.Status.Live() {
			return existing, false, nil
		}
		delete(s.connections, id)
		delete(s.pairs, key)
		events = append(events, func() { s.emit(models.TableConnections, models.ChangeDelete, existing) })
	}

	now := s.now()
	conn := models.Connection{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     models.ConnectionPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.connections[conn.ID] = conn
	s.pairs[key] = conn.ID
	events = append(events, func() { s.emit(models.TableConnections, models.ChangeInsert, conn) })
	return conn, true, nil
}

// TransitionStatus implements ConnectionRepository.
func (s *MemoryStore) TransitionStatus(ctx context.Context, id string, from, to models.ConnectionStatus) (models.Connection, error) {
	if err := ctx.Err(); err != nil {
		return models.Connection{}, err
	}
	s.mu.Lock()
	conn, ok := s.connections[id]
	if !ok {
		s.mu.Unlock()
		return models.Connection{}, ErrConnectionNotFound
	}
	if conn.Status != from {
		s.mu.Unlock()
		return models.Connection{}, ErrStatusConflict
	}
	conn.Status = to
	conn.UpdatedAt = s.now()
	s.connections[id] = conn
	s.mu.Unlock()

	s.emit(models.TableConnections, models.ChangeUpdate, conn)
	return conn, nil
}

// ListByStatus implements ConnectionRepository.
func (s *MemoryStore) ListByStatus(ctx context.Context, userID string, status models.ConnectionStatus) ([]models.Connection, error) {
	return s.listConnections(ctx, func(c models.Connection) bool {
		return c.Involves(userID) && c.Status == status
	})
}

// ListIncoming implements ConnectionRepository.
func (s *MemoryStore) ListIncoming(ctx context.Context, userID string) ([]models.Connection, error) {
	return s.listConnections(ctx, func(c models.Connection) bool {
		return c.ReceiverID == userID && c.Status == models.ConnectionPending
	})
}

// CountAccepted implements ConnectionRepository.
func (s *MemoryStore) CountAccepted(ctx context.Context, userID string) (int, error) {
	conns, err := s.ListByStatus(ctx, userID, models.ConnectionAccepted)
	return len(conns), err
}

// ConnectionsForPair returns every stored row for the pair. The uniqueness
// invariant means the result never has more than one element.
func (s *MemoryStore) ConnectionsForPair(userA, userB string) []models.Connection {
	conns, _ := s.listConnections(context.Background(), func(c models.Connection) bool {
		return models.PairKey(c.SenderID, c.ReceiverID) == models.PairKey(userA, userB)
	})
	return conns
}

func (s *MemoryStore) listConnections(ctx context.Context, keep func(models.Connection) bool) ([]models.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Connection
	for _, c := range s.connections {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// CreateMessage implements MessageRepository.
func (s *MemoryStore) CreateMessage(ctx context.Context, senderID, receiverID, content string) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	msg := models.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  s.now(),
	}
	s.mu.Lock()
	s.messages[msg.ID] = msg
	s.mu.Unlock()

	s.emit(models.TableMessages, models.ChangeInsert, msg)
	return msg, nil
}

// PutMessage stores msg as-is, emitting an insert or update event.
func (s *MemoryStore) PutMessage(msg models.Message) {
	s.mu.Lock()
	_, exists := s.messages[msg.ID]
	s.messages[msg.ID] = msg
	s.mu.Unlock()

	typ := models.ChangeInsert
	if exists {
		typ = models.ChangeUpdate
	}
	s.emit(models.TableMessages, typ, msg)
}

// DeleteMessage removes a message, emitting a delete event.
func (s *MemoryStore) DeleteMessage(id string) bool {
	s.mu.Lock()
	msg, ok := s.messages[id]
	delete(s.messages, id)
	s.mu.Unlock()

	if ok {
		s.emit(models.TableMessages, models.ChangeDelete, msg)
	}
	return ok
}

// ListForUser implements MessageRepository.
func (s *MemoryStore) ListForUser(ctx context.Context, userID string) ([]models.Message, error) {
	msgs, err := s.listMessages(ctx, func(m models.Message) bool { return m.Involves(userID) })
	if err != nil {
		return nil, err
	}
	// newest first, matching the Postgres query
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// ListThread implements MessageRepository.
func (s *MemoryStore) ListThread(ctx context.Context, userID, counterpartID string) ([]models.Message, error) {
	return s.listMessages(ctx, func(m models.Message) bool {
		return (m.SenderID == userID && m.ReceiverID == counterpartID) ||
			(m.SenderID == counterpartID && m.ReceiverID == userID)
	})
}

// MarkRead implements MessageRepository.
func (s *MemoryStore) MarkRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	var changed []models.Message
	for id, m := range s.messages {
		if m.ReceiverID == receiverID && m.SenderID == senderID && !m.IsRead {
			m.IsRead = true
			s.messages[id] = m
			changed = append(changed, m)
		}
	}
	s.mu.Unlock()

	for _, m := range changed {
		s.emit(models.TableMessages, models.ChangeUpdate, m)
	}
	return int64(len(changed)), nil
}

// Message returns a stored message by id.
func (s *MemoryStore) Message(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	return m, ok
}

// listMessages returns matching messages oldest first.
func (s *MemoryStore) listMessages(ctx context.Context, keep func(models.Message) bool) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[j].Newer(out[i]) })
	return out, nil
}

var (
	_ ConnectionRepository = (*MemoryStore)(nil)
	_ MessageRepository    = (*MemoryStore)(nil)
)
