package models

import "time"

// Conversation is the derived inbox entry for one counterpart.
type Conversation struct {
	CounterpartID string    `json:"counterpart_id"`
	Profile       Profile   `json:"profile"`
	LastMessageID string    `json:"last_message_id,omitempty"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`
	UnreadCount   int       `json:"unread_count"`
	Pending       int       `json:"pending,omitempty"`
	Failed        int       `json:"failed,omitempty"`
}

// Inbox socket event types.
const (
	InboxEventConversations = "conversations"
	InboxEventThread        = "thread"
	InboxEventMessage       = "message"
	InboxEventConnection    = "connection"
	InboxEventError         = "error"
)

// InboxEvent is pushed to live inbox subscribers.
type InboxEvent struct {
	Type          string          `json:"type"`
	Conversations []Conversation  `json:"conversations,omitempty"`
	CounterpartID string          `json:"counterpart_id,omitempty"`
	Thread        []ThreadMessage `json:"thread,omitempty"`
	Message       *ThreadMessage  `json:"message,omitempty"`
	Connection    *ConnectionView `json:"connection,omitempty"`
	Removed       bool            `json:"removed,omitempty"`
	Code          string          `json:"code,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Inbox socket command types.
const (
	InboxCommandOpenThread  = "open_thread"
	InboxCommandCloseThread = "close_thread"
	InboxCommandMarkRead    = "mark_read"
	InboxCommandSend        = "send"
	InboxCommandRetry       = "retry"
	InboxCommandDiscard     = "discard"
)

// InboxCommand is a request sent by the client over the inbox socket.
type InboxCommand struct {
	Type          string `json:"type"`
	CounterpartID string `json:"counterpart_id,omitempty"`
	Content       string `json:"content,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
