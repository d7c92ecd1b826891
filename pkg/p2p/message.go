package p2p

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType represents the type of network message
type MessageType string

const (
	ValidationRequestMessage MessageType = "ValidationRequest"
)

// Message is the envelope published on the validation topic
type Message struct {
	Type      MessageType `json:"type"`
	Version   string      `json:"version"`
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewMessage creates a new message envelope
func NewMessage(msgType MessageType, data interface{}) *Message {
	return &Message{
		Type:      msgType,
		Version:   "1.0.0",
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Marshal serializes the message
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal deserializes the message
func (m *Message) Unmarshal(data []byte) error {
	return json.Unmarshal(data, m)
}

// ValidationRequest announces a new validation session to the selected
// validators.
type ValidationRequest struct {
	SessionID    string    `json:"session_id"`
	ContentID    string    `json:"content_id"`
	ContentType  string    `json:"content_type"`
	ValidatorIDs []string  `json:"validator_ids"`
	Deadline     time.Time `json:"deadline"`
}
