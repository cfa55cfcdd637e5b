package models

import "time"

// ConnectionStatus is the lifecycle state of a connection row.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
	ConnectionRejected ConnectionStatus = "rejected"
)

// Live reports whether the status blocks a new request for the same pair.
func (s ConnectionStatus) Live() bool {
	return s == ConnectionPending || s == ConnectionAccepted
}

// Valid reports whether s is one of the known statuses.
func (s ConnectionStatus) Valid() bool {
	switch s {
	case ConnectionPending, ConnectionAccepted, ConnectionRejected:
		return true
	}
	return false
}

// Connection is the persisted relationship between two users.
// SenderID is the user who initiated the request.
type Connection struct {
	ID         string           `db:"id" json:"id"`
	SenderID   string           `db:"sender_id" json:"sender_id"`
	ReceiverID string           `db:"receiver_id" json:"receiver_id"`
	Status     ConnectionStatus `db:"status" json:"status"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// Involves reports whether userID is one side of the connection.
func (c Connection) Involves(userID string) bool {
	return c.SenderID == userID || c.ReceiverID == userID
}

// Counterpart returns the other side of the connection relative to userID.
func (c Connection) Counterpart(userID string) string {
	if c.SenderID == userID {
		return c.ReceiverID
	}
	return c.SenderID
}

// Perspective is a viewer-relative label for a connection.
type Perspective string

const (
	PerspectiveSent     Perspective = "sent"
	PerspectiveReceived Perspective = "received"
	PerspectiveAccepted Perspective = "accepted"
	PerspectiveRejected Perspective = "rejected"
)

// ConnectionView annotates a connection with how the viewer sees it.
type ConnectionView struct {
	Connection
	Perspective Perspective `json:"user_perspective"`
}

// ViewFor builds the viewer-relative view of c.
func ViewFor(c Connection, viewerID string) ConnectionView {
	view := ConnectionView{Connection: c}
	switch c.Status {
	case ConnectionPending:
		if c.SenderID == viewerID {
			view.Perspective = PerspectiveSent
		} else {
			view.Perspective = PerspectiveReceived
		}
	case ConnectionAccepted:
		view.Perspective = PerspectiveAccepted
	default:
		view.Perspective = PerspectiveRejected
	}
	return view
}

// ConnectionEntry pairs a connection with the counterpart's profile for list views.
type ConnectionEntry struct {
	Connection Connection `json:"connection"`
	Profile    Profile    `json:"profile"`
}

// PairKey is the order-independent key of the pair {a, b}.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
