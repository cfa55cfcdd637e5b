package repositories

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"atelier/internal/models"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrStatusConflict is returned when a conditional status update finds the
	// row in a different state than expected.
	ErrStatusConflict = errors.New("connection status conflict")
)

// ConnectionRepository abstracts connection persistence.
type ConnectionRepository interface {
	FindByPair(ctx context.Context, userA, userB string) (models.Connection, error)
	GetConnection(ctx context.Context, id string) (models.Connection, error)
	// UpsertRequest atomically creates a pending request from sender to
	// receiver unless a live row exists for the pair. A rejected row is
	// replaced. The bool reports whether a new pending row was written.
	UpsertRequest(ctx context.Context, senderID, receiverID string) (models.Connection, bool, error)
	TransitionStatus(ctx context.Context, id string, from, to models.ConnectionStatus) (models.Connection, error)
	ListByStatus(ctx context.Context, userID string, status models.ConnectionStatus) ([]models.Connection, error)
	ListIncoming(ctx context.Context, userID string) ([]models.Connection, error)
	CountAccepted(ctx context.Context, userID string) (int, error)
}

// ConnectionRepo is a sqlx implementation of ConnectionRepository.
type ConnectionRepo struct {
	db *sqlx.DB
}

// NewConnectionRepo constructs a ConnectionRepo.
func NewConnectionRepo(db *sqlx.DB) *ConnectionRepo {
	return &ConnectionRepo{db: db}
}

const connectionColumns = `id, sender_id, receiver_id, status, created_at, updated_at`

// FindByPair returns the row for the unordered pair {userA, userB}.
func (r *ConnectionRepo) FindByPair(ctx context.Context, userA, userB string) (models.Connection, error) {
	var conn models.Connection
	err := r.db.GetContext(ctx, &conn, `SELECT `+connectionColumns+` FROM connections WHERE pair_key=$1`, models.PairKey(userA, userB))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Connection{}, ErrConnectionNotFound
	}
	if err != nil {
		return models.Connection{}, errors.Wrap(err, "connectionRepo.FindByPair")
	}
	return conn, nil
}

// GetConnection fetches a connection by id.
func (r *ConnectionRepo) GetConnection(ctx context.Context, id string) (models.Connection, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Connection{}, ErrConnectionNotFound
	}
	var conn models.Connection
	err := r.db.GetContext(ctx, &conn, `SELECT `+connectionColumns+` FROM connections WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Connection{}, ErrConnectionNotFound
	}
	if err != nil {
		return models.Connection{}, errors.Wrap(err, "connectionRepo.GetConnection")
	}
	return conn, nil
}

// UpsertRequest inserts a pending row or replaces a rejected one in a single
// statement. When the pair already has a live row the conflict clause does
// nothing and the live row is read back instead.
func (r *ConnectionRepo) UpsertRequest(ctx context.Context, senderID, receiverID string) (models.Connection, bool, error) {
	const query = `INSERT INTO connections (sender_id, receiver_id, status)
        VALUES ($1, $2, 'pending')
        ON CONFLICT (pair_key) DO UPDATE
        SET id = gen_random_uuid(),
            sender_id = EXCLUDED.sender_id,
            receiver_id = EXCLUDED.receiver_id,
            status = 'pending',
            created_at = NOW(),
            updated_at = NOW()
        WHERE connections.status = 'rejected'
        RETURNING ` + connectionColumns

	// A second attempt covers a live row being rejected between the
	// upsert and the read back.
	for attempt := 0; attempt < 2; attempt++ {
		var conn models.Connection
		err := r.db.GetContext(ctx, &conn, query, senderID, receiverID)
		if err == nil {
			return conn, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return models.Connection{}, false, errors.Wrap(err, "connectionRepo.UpsertRequest")
		}

		existing, err := r.FindByPair(ctx, senderID, receiverID)
		if errors.Is(err, ErrConnectionNotFound) {
			continue
		}
		if err != nil {
			return models.Connection{}, false, err
		}
		if existing.Status.Live() {
			return existing, false, nil
		}
	}
	return models.Connection{}, false, errors.New("connectionRepo.UpsertRequest: pair changed concurrently")
}

// TransitionStatus moves a connection from one status to another, failing
// with ErrStatusConflict when the row is not currently in from.
func (r *ConnectionRepo) TransitionStatus(ctx context.Context, id string, from, to models.ConnectionStatus) (models.Connection, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Connection{}, ErrConnectionNotFound
	}
	var conn models.Connection
	err := r.db.GetContext(ctx, &conn, `UPDATE connections SET status=$3, updated_at=NOW()
        WHERE id=$1 AND status=$2
        RETURNING `+connectionColumns, id, from, to)
	if err == nil {
		return conn, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Connection{}, errors.Wrap(err, "connectionRepo.TransitionStatus")
	}
	if _, err := r.GetConnection(ctx, id); err != nil {
		return models.Connection{}, err
	}
	return models.Connection{}, ErrStatusConflict
}

// ListByStatus returns connections on either side of userID with the given status.
func (r *ConnectionRepo) ListByStatus(ctx context.Context, userID string, status models.ConnectionStatus) ([]models.Connection, error) {
	var conns []models.Connection
	err := r.db.SelectContext(ctx, &conns, `SELECT `+connectionColumns+` FROM connections
        WHERE (sender_id=$1 OR receiver_id=$1) AND status=$2
        ORDER BY updated_at DESC, id`, userID, status)
	if err != nil {
		return nil, errors.Wrap(err, "connectionRepo.ListByStatus")
	}
	return conns, nil
}

// ListIncoming returns pending requests addressed to userID.
func (r *ConnectionRepo) ListIncoming(ctx context.Context, userID string) ([]models.Connection, error) {
	var conns []models.Connection
	err := r.db.SelectContext(ctx, &conns, `SELECT `+connectionColumns+` FROM connections
        WHERE receiver_id=$1 AND status='pending'
        ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "connectionRepo.ListIncoming")
	}
	return conns, nil
}

// CountAccepted counts accepted connections on either side of userID.
func (r *ConnectionRepo) CountAccepted(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM connections
        WHERE (sender_id=$1 OR receiver_id=$1) AND status='accepted'`, userID)
	if err != nil {
		return 0, errors.Wrap(err, "connectionRepo.CountAccepted")
	}
	return count, nil
}
