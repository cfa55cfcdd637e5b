package models

import (
	"encoding/json"
	"fmt"
)

// Table names observed by the change feed.
const (
	TableConnections = "connections"
	TableMessages    = "messages"
)

// ChangeType is the kind of row change.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
	// ChangeResync tells subscribers the feed was (re)established and events
	// may have been missed; Row is empty.
	ChangeResync ChangeType = "RESYNC"
)

// ChangeEvent is one row change delivered by the change feed. Row holds the
// new row for inserts and updates and the old row for deletes.
type ChangeEvent struct {
	Table string          `json:"table"`
	Type  ChangeType      `json:"type"`
	Row   json.RawMessage `json:"row"`
}

// Message decodes Row as a message.
func (e ChangeEvent) Message() (Message, error) {
	var msg Message
	if e.Table != TableMessages {
		return msg, fmt.Errorf("change event for table %q is not a message", e.Table)
	}
	err := json.Unmarshal(e.Row, &msg)
	return msg, err
}

// Connection decodes Row as a connection.
func (e ChangeEvent) Connection() (Connection, error) {
	var conn Connection
	if e.Table != TableConnections {
		return conn, fmt.Errorf("change event for table %q is not a connection", e.Table)
	}
	err := json.Unmarshal(e.Row, &conn)
	return conn, err
}

// NewChangeEvent marshals row into a ChangeEvent.
func NewChangeEvent(table string, typ ChangeType, row any) (ChangeEvent, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return ChangeEvent{}, err
	}
	return ChangeEvent{Table: table, Type: typ, Row: raw}, nil
}
