package models

import "time"

// Message represents a direct message between two users.
type Message struct {
	ID         string    `db:"id" json:"id"`
	SenderID   string    `db:"sender_id" json:"sender_id"`
	ReceiverID string    `db:"receiver_id" json:"receiver_id"`
	Content    string    `db:"content" json:"content"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	IsRead     bool      `db:"is_read" json:"is_read"`
}

// Involves reports whether userID sent or received the message.
func (m Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Counterpart returns the other participant relative to viewerID.
func (m Message) Counterpart(viewerID string) string {
	if m.SenderID == viewerID {
		return m.ReceiverID
	}
	return m.SenderID
}

// UnreadBy reports whether the message counts as unread for viewerID.
// Messages the viewer sent are implicitly read.
func (m Message) UnreadBy(viewerID string) bool {
	return m.ReceiverID == viewerID && !m.IsRead
}

// Newer reports whether m sorts after other in time order.
// Equal timestamps fall back to the id for a deterministic order.
func (m Message) Newer(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID > other.ID
	}
	return m.CreatedAt.After(other.CreatedAt)
}

// Delivery is the confirmation state of a message in a thread view.
type Delivery string

const (
	DeliverySent    Delivery = "sent"
	DeliveryPending Delivery = "pending"
	DeliveryFailed  Delivery = "failed"
)

// ThreadMessage is a message as shown in an open thread, including
// optimistic records that the store has not confirmed yet.
type ThreadMessage struct {
	Message
	Delivery      Delivery `json:"delivery"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}
