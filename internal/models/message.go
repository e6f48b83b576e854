package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Message represents one logical chat message. Before the backend confirms
// it, the entry is identified by TempID and marked Pending; once confirmed
// it is identified by ID and TempID is discarded.
type Message struct {
	ID            string    `json:"id,omitempty"`
	TempID        string    `json:"temp_id,omitempty"`
	Sender        string    `json:"sender"`
	Receiver      string    `json:"receiver"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	Pending       bool      `json:"pending"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// DedupKey returns the value used to recognize two deliveries as the same
// logical message: the backend id when present, otherwise a composite of
// timestamp, parties and content.
func (m Message) DedupKey() string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	return strings.Join([]string{
		m.Timestamp.UTC().Format(time.RFC3339Nano),
		m.Sender,
		m.Receiver,
		m.Content,
	}, "|")
}

// Involves reports whether both users participate in the message.
func (m Message) Involves(userA, userB string) bool {
	return (m.Sender == userA && m.Receiver == userB) ||
		(m.Sender == userB && m.Receiver == userA)
}

// ErrEmptyPayload is returned when a push payload carries no content.
var ErrEmptyPayload = errors.New("push payload has no content")

// pushPayload tolerates both field spellings seen on the wire.
type pushPayload struct {
	ID            string `json:"id"`
	Sender        string `json:"sender"`
	From          string `json:"from"`
	Receiver      string `json:"receiver"`
	To            string `json:"to"`
	Content       string `json:"content"`
	Timestamp     string `json:"timestamp"`
	CorrelationID string `json:"correlation_id"`
}

// DecodePush normalizes a raw push payload into a confirmed Message.
// Incoming payloads may use sender/receiver or from/to; both decode to the
// same canonical shape so reconciliation never branches on wire spelling.
func DecodePush(data []byte) (Message, error) {
	var p pushPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Message{}, err
	}

	sender := p.Sender
	if sender == "" {
		sender = p.From
	}
	receiver := p.Receiver
	if receiver == "" {
		receiver = p.To
	}
	if p.Content == "" && sender == "" && receiver == "" {
		return Message{}, ErrEmptyPayload
	}

	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		// Some producers truncate to whole seconds.
		ts, err = time.Parse(time.RFC3339, p.Timestamp)
		if err != nil {
			ts = time.Time{}
		}
	}

	return Message{
		ID:            p.ID,
		Sender:        sender,
		Receiver:      receiver,
		Content:       p.Content,
		Timestamp:     ts,
		CorrelationID: p.CorrelationID,
	}, nil
}
