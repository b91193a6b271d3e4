package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Push event names.
const (
	EventUpdate      = "update"
	EventAnswerCount = "answer-count"
	EventConnected   = "connected"
)

// Event is one message published on a session topic.
type Event struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sentAt"`
}

// AnswerCount is the incremental payload of an answer-count event.
type AnswerCount struct {
	QuestionID   string `json:"questionId"`
	AnswersCount int    `json:"answersCount"`
}

// SessionTopic is the push topic a session's events are published on.
func SessionTopic(sessionID string) string {
	return "session-" + sessionID
}

// NewEvent encodes payload into an event stamped with sentAt.
func NewEvent(name string, payload any, sentAt time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s event: %w", name, err)
	}
	return Event{Name: name, Payload: raw, SentAt: sentAt}, nil
}

// Decode unmarshals the event payload into dst.
func (e Event) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("decode %s event: empty payload", e.Name)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s event: %w", e.Name, err)
	}
	return nil
}
