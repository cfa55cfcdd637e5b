// Package relationships implements the pairwise connection state machine:
// pending -> accepted | rejected, with at most one live row per unordered pair.
package relationships

import (
	"context"
	"errors"
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

const tracerName = "atelier/relationships"

// Events receives notifications after successful writes.
type Events interface {
	ConnectionRequested(ctx context.Context, c models.Connection)
	ConnectionAccepted(ctx context.Context, c models.Connection)
	ConnectionRejected(ctx context.Context, c models.Connection)
}

type noEvents struct{}

func (noEvents) ConnectionRequested(context.Context, models.Connection) {}
func (noEvents) ConnectionAccepted(context.Context, models.Connection)  {}
func (noEvents) ConnectionRejected(context.Context, models.Connection)  {}

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

// Service is the Relationship Manager.
type Service struct {
	repo      repositories.ConnectionRepository
	directory profiles.Directory
	events    Events
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewService constructs a Service.
func NewService(repo repositories.ConnectionRepository, directory profiles.Directory, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		directory: directory,
		events:    noEvents{},
		timeout:   5 * time.Second,
		logger:    logging.NewPackageLogger("relationships"),
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

func validatePair(viewer, other string) error {
	if viewer == "" || other == "" {
		return apperrors.ErrMissingUser
	}
	if viewer == other {
		return apperrors.ErrSelfConnection
	}
	return nil
}

// GetStatus returns the row for the unordered pair as seen by viewer, or nil
// when the pair has never been connected.
func (s *Service) GetStatus(ctx context.Context, viewer, other string) (view *models.ConnectionView, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "relationships.GetStatus",
		attribute.String("viewer", viewer), attribute.String("other", other))
	defer func() { observability.EndSpan(span, err) }()

	if err := validatePair(viewer, other); err != nil {
		return nil, err
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	conn, err := s.repo.FindByPair(sctx, viewer, other)
	if errors.Is(err, repositories.ErrConnectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.StoreFailure("get connection status", err)
	}
	v := models.ViewFor(conn, viewer)
	return &v, nil
}

// SendRequest creates a pending request from viewer to other. A live row for
// the pair is returned unchanged; a rejected row is replaced by a fresh one.
func (s *Service) SendRequest(ctx context.Context, viewer, other string) (conn models.Connection, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "relationships.SendRequest",
		attribute.String("viewer", viewer), attribute.String("other", other))
	defer func() { observability.EndSpan(span, err) }()

	if err := validatePair(viewer, other); err != nil {
		observability.IncConnectionRequest("invalid")
		return models.Connection{}, err
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	conn, created, err := s.repo.UpsertRequest(sctx, viewer, other)
	if err != nil {
		observability.IncConnectionRequest("error")
		s.logger.Error().Err(err).Str(logging.USER, viewer).Str(logging.PEER, other).Msg("send request failed")
		return models.Connection{}, apperrors.StoreFailure("send connection request", err)
	}
	if !created {
		observability.IncConnectionRequest("existing")
		s.logger.Debug().Str(logging.ID, conn.ID).Str(logging.STATE, string(conn.Status)).Msg("live connection already exists")
		return conn, nil
	}

	observability.IncConnectionRequest("created")
	s.logger.Info().Str(logging.ID, conn.ID).Str(logging.USER, viewer).Str(logging.PEER, other).Msg("connection requested")
	s.events.ConnectionRequested(ctx, conn)
	return conn, nil
}

// Accept moves a pending request to accepted. Only the receiver may accept.
func (s *Service) Accept(ctx context.Context, actor, connectionID string) (models.Connection, error) {
	conn, err := s.transition(ctx, actor, connectionID, models.ConnectionAccepted)
	if err == nil {
		s.events.ConnectionAccepted(ctx, conn)
	}
	return conn, err
}

// Reject moves a pending request to rejected. Only the receiver may reject.
func (s *Service) Reject(ctx context.Context, actor, connectionID string) (models.Connection, error) {
	conn, err := s.transition(ctx, actor, connectionID, models.ConnectionRejected)
	if err == nil {
		s.events.ConnectionRejected(ctx, conn)
	}
	return conn, err
}

func (s *Service) transition(ctx context.Context, actor, connectionID string, to models.ConnectionStatus) (conn models.Connection, err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "relationships.Transition",
		attribute.String("actor", actor), attribute.String("connection_id", connectionID), attribute.String("to", string(to)))
	defer func() {
		observability.IncConnectionTransition(string(to), transitionResult(err))
		observability.EndSpan(span, err)
	}()

	if actor == "" {
		return models.Connection{}, apperrors.ErrMissingUser
	}
	if connectionID == "" {
		return models.Connection{}, apperrors.InvalidOperation("connection id is required")
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()

	current, err := s.repo.GetConnection(sctx, connectionID)
	if errors.Is(err, repositories.ErrConnectionNotFound) {
		return models.Connection{}, apperrors.ErrConnectionNotFound
	}
	if err != nil {
		return models.Connection{}, apperrors.StoreFailure("load connection", err)
	}
	if current.ReceiverID != actor {
		return models.Connection{}, apperrors.ErrNotReceiver
	}
	if current.Status != models.ConnectionPending {
		return models.Connection{}, apperrors.ErrNotPending
	}

	conn, err = s.repo.TransitionStatus(sctx, connectionID, models.ConnectionPending, to)
	switch {
	case errors.Is(err, repositories.ErrStatusConflict):
		return models.Connection{}, apperrors.ErrNotPending
	case errors.Is(err, repositories.ErrConnectionNotFound):
		return models.Connection{}, apperrors.ErrConnectionNotFound
	case err != nil:
		return models.Connection{}, apperrors.StoreFailure("update connection status", err)
	}

	s.logger.Info().Str(logging.ID, conn.ID).Str(logging.USER, actor).Str(logging.STATE, string(to)).Msg("connection status changed")
	return conn, nil
}

func transitionResult(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperrors.CodeOf(err))
}

// Count is the number of accepted connections of user, derived on read.
func (s *Service) Count(ctx context.Context, user string) (int, error) {
	if user == "" {
		return 0, apperrors.ErrMissingUser
	}
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	n, err := s.repo.CountAccepted(sctx, user)
	if err != nil {
		return 0, apperrors.StoreFailure("count connections", err)
	}
	return n, nil
}

// ListIncoming returns pending requests received by user with sender profiles.
func (s *Service) ListIncoming(ctx context.Context, user string) ([]models.ConnectionEntry, error) {
	if user == "" {
		return nil, apperrors.ErrMissingUser
	}
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	conns, err := s.repo.ListIncoming(sctx, user)
	if err != nil {
		return nil, apperrors.StoreFailure("list incoming requests", err)
	}
	return s.withProfiles(sctx, user, conns)
}

// ListConnections returns accepted connections of user with counterpart profiles.
func (s *Service) ListConnections(ctx context.Context, user string) ([]models.ConnectionEntry, error) {
	if user == "" {
		return nil, apperrors.ErrMissingUser
	}
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	conns, err := s.repo.ListByStatus(sctx, user, models.ConnectionAccepted)
	if err != nil {
		return nil, apperrors.StoreFailure("list connections", err)
	}
	return s.withProfiles(sctx, user, conns)
}

func (s *Service) withProfiles(ctx context.Context, user string, conns []models.Connection) ([]models.ConnectionEntry, error) {
	entries := make([]models.ConnectionEntry, 0, len(conns))
	if len(conns) == 0 {
		return entries, nil
	}

	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.Counterpart(user))
	}
	found, err := s.directory.LookupProfiles(ctx, profiles.UniqueIDs(ids))
	if err != nil {
		return nil, apperrors.StoreFailure("lookup profiles", err)
	}
	for _, c := range conns {
		entries = append(entries, models.ConnectionEntry{
			Connection: c,
			Profile:    profiles.Resolve(found, c.Counterpart(user)),
		})
	}
	return entries, nil
}
