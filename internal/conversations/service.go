package conversations

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"atelier/internal/apperrors"
	"atelier/internal/logging"
	"atelier/internal/models"
	"atelier/internal/observability"
	"atelier/internal/profiles"
	"atelier/internal/repositories"
)

const tracerName = "atelier/conversations"

// Events receives notifications after successful message writes.
type Events interface {
	MessageSent(ctx context.Context, m models.Message)
	MessagesRead(ctx context.Context, readerID, senderID string, count int64)
}

type noEvents struct{}

func (noEvents) MessageSent(context.Context, models.Message)         {}
func (noEvents) MessagesRead(context.Context, string, string, int64) {}

// Option configures a Service.
type Option func(*Service)

// WithEvents sets the event sink.
func WithEvents(events Events) Option {
	return func(s *Service) {
		if events != nil {
			s.events = events
		}
	}
}

// WithStoreTimeout bounds every store call. Zero disables the bound.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// Service answers inbox queries and writes messages.
type Service struct {
	messages  repositories.MessageRepository
	directory profiles.Directory
	events    Events
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewService constructs a Service.
func NewService(messages repositories.MessageRepository, directory profiles.Directory, opts ...Option) *Service {
	s := &Service{
		messages:  messages,
		directory: directory,
		events:    noEvents{},
		timeout:   5 * time.Second,
		logger:    logging.NewPackageLogger("conversations"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func validatePair(viewer, counterpart string) error {
	if viewer == "" || counterpart == "" {
		return apperrors.ErrMissingUser
	}
	if viewer == counterpart {
		return apperrors.ErrSelfMessage
	}
	return nil
}

// ValidateMessage checks a send before anything is written.
func ValidateMessage(viewer, counterpart, content string) error {
	if err := validatePair(viewer, counterpart); err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return apperrors.ErrEmptyMessage
	}
	return nil
}

// ListConversations builds the viewer's inbox from every message involving them.
func (s *Service) ListConversations(ctx context.Context, viewer string) (list []models.Conversation, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "conversations.List", attribute.String("viewer", viewer))
	defer func() { observability.EndSpan(span, err) }()

	msgs, found, err := s.load(ctx, viewer)
	if err != nil {
		return nil, err
	}
	return Build(viewer, msgs, found), nil
}

// load reads the viewer's messages and the profiles of their counterparts.
func (s *Service) load(ctx context.Context, viewer string) ([]models.Message, map[string]models.Profile, error) {
	if viewer == "" {
		return nil, nil, apperrors.ErrMissingUser
	}
	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	msgs, err := s.messages.ListForUser(sctx, viewer)
	if err != nil {
		return nil, nil, apperrors.StoreFailure("list messages", err)
	}
	found, err := s.lookup(sctx, Counterparts(viewer, msgs))
	if err != nil {
		return nil, nil, err
	}
	return msgs, found, nil
}

func (s *Service) lookup(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	if len(ids) == 0 {
		return map[string]models.Profile{}, nil
	}
	found, err := s.directory.LookupProfiles(ctx, ids)
	if err != nil {
		return nil, apperrors.StoreFailure("lookup profiles", err)
	}
	return found, nil
}

// Thread returns the messages between viewer and counterpart, oldest first.
func (s *Service) Thread(ctx context.Context, viewer, counterpart string) ([]models.Message, error) {
	if err := validatePair(viewer, counterpart); err != nil {
		return nil, err
	}
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	msgs, err := s.messages.ListThread(sctx, viewer, counterpart)
	if err != nil {
		return nil, apperrors.StoreFailure("list thread", err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// MarkRead flags every unread message from counterpart to viewer as read.
// Calling it again is a no-op.
func (s *Service) MarkRead(ctx context.Context, viewer, counterpart string) (n int64, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "conversations.MarkRead",
		attribute.String("viewer", viewer), attribute.String("counterpart", counterpart))
	defer func() { observability.EndSpan(span, err) }()

	if err := validatePair(viewer, counterpart); err != nil {
		return 0, err
	}
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	n, err = s.messages.MarkRead(sctx, viewer, counterpart)
	if err != nil {
		s.logger.Error().Err(err).Str(logging.USER, viewer).Str(logging.PEER, counterpart).Msg("mark read failed")
		return 0, apperrors.StoreFailure("mark messages read", err)
	}
	observability.AddMessagesMarkedRead(n)
	s.events.MessagesRead(ctx, viewer, counterpart, n)
	return n, nil
}

// SendMessage stores an unread message from viewer to counterpart.
func (s *Service) SendMessage(ctx context.Context, viewer, counterpart, content string) (msg models.Message, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "conversations.SendMessage",
		attribute.String("viewer", viewer), attribute.String("counterpart", counterpart))
	defer func() { observability.EndSpan(span, err) }()

	if err := ValidateMessage(viewer, counterpart, content); err != nil {
		observability.IncMessageSent("invalid")
		return models.Message{}, err
	}
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	msg, err = s.messages.CreateMessage(sctx, viewer, counterpart, strings.TrimSpace(content))
	if err != nil {
		observability.IncMessageSent("error")
		s.logger.Error().Err(err).Str(logging.USER, viewer).Str(logging.PEER, counterpart).Msg("send message failed")
		return models.Message{}, apperrors.StoreFailure("send message", err)
	}
	observability.IncMessageSent("ok")
	s.logger.Debug().Str(logging.ID, msg.ID).Str(logging.USER, viewer).Str(logging.PEER, counterpart).Msg("message sent")
	s.events.MessageSent(ctx, msg)
	return msg, nil
}
