package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"atelier/internal/models"
)

// MessageRepository defines interactions for direct messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, senderID, receiverID, content string) (models.Message, error)
	// ListForUser returns every message the user sent or received, newest first.
	ListForUser(ctx context.Context, userID string) ([]models.Message, error)
	// ListThread returns the messages between two users, oldest first.
	ListThread(ctx context.Context, userID, counterpartID string) ([]models.Message, error)
	// MarkRead flags every unread message from senderID to receiverID as read
	// and returns how many rows changed.
	MarkRead(ctx context.Context, receiverID, senderID string) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, sender_id, receiver_id, content, is_read, created_at`

// CreateMessage stores an unread message.
func (r *MessageRepo) CreateMessage(ctx context.Context, senderID, receiverID, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `INSERT INTO messages (sender_id, receiver_id, content, is_read)
        VALUES ($1, $2, $3, FALSE)
        RETURNING `+messageColumns, senderID, receiverID, content)
	if err != nil {
		return models.Message{}, errors.Wrap(err, "messageRepo.CreateMessage")
	}
	return msg, nil
}

// ListForUser returns all messages involving the user.
func (r *MessageRepo) ListForUser(ctx context.Context, userID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE sender_id=$1 OR receiver_id=$1
        ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "messageRepo.ListForUser")
	}
	return msgs, nil
}

// ListThread returns ordered messages between the two users.
func (r *MessageRepo) ListThread(ctx context.Context, userID, counterpartID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE (sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)
        ORDER BY created_at ASC, id ASC`, userID, counterpartID)
	if err != nil {
		return nil, errors.Wrap(err, "messageRepo.ListThread")
	}
	return msgs, nil
}

// MarkRead bulk-updates the read flag for one counterpart.
func (r *MessageRepo) MarkRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE
        WHERE receiver_id=$1 AND sender_id=$2 AND is_read = FALSE`, receiverID, senderID)
	if err != nil {
		return 0, errors.Wrap(err, "messageRepo.MarkRead")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "messageRepo.MarkRead.RowsAffected")
	}
	return count, nil
}
