package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// ChangeMessage announces a committed write to a document. Receivers re-read
// the collection; the message carries no document data.
type ChangeMessage struct {
	Collection string    `json:"collection"`
	DocumentID string    `json:"document_id"`
	Operation  string    `json:"operation"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewChangeMessage creates a change message stamped with the current time
func NewChangeMessage(collection, documentID, operation, source string) *ChangeMessage {
	return &ChangeMessage{
		Collection: collection,
		DocumentID: documentID,
		Operation:  operation,
		Source:     source,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON creates a message from JSON bytes
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Collection == "" {
		return nil, errors.New("change message without collection")
	}
	return &msg, nil
}
