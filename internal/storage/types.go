package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventKind classifies a usage event.
type EventKind string

const (
	EventLogin  EventKind = "LOGIN"
	EventLogout EventKind = "LOGOUT"
)

// UnmarshalJSON implements json.Unmarshaler to normalize kinds to uppercase.
func (k *EventKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := EventKind(strings.ToUpper(s))

	switch normalized {
	case EventLogin, EventLogout:
		*k = normalized
		return nil
	default:
		return fmt.Errorf("invalid event kind: %s (must be LOGIN or LOGOUT)", s)
	}
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (k EventKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(k))
}

// UsageEvent is one record of the append-only per-child event log.
// Events are immutable once written.
type UsageEvent struct {
	SubjectID  string    `json:"subject_id"`
	Kind       EventKind `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sender classifies who produced a chat message.
type Sender string

const (
	SenderKid Sender = "kid"
	SenderAI  Sender = "ai"
)

// Parent represents a guardian account.
type Parent struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// Child represents a supervised child account.
type Child struct {
	ID                string    `json:"id"`
	ParentID          string    `json:"parent_id"`
	Name              string    `json:"name"`
	Age               int       `json:"age"`
	Username          string    `json:"username"`
	PasswordHash      string    `json:"-"`
	DailyLimitMinutes int       `json:"daily_limit_minutes"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ChatSession groups the messages of one topic conversation.
type ChatSession struct {
	ID            string    `json:"id"`
	ChildID       string    `json:"child_id"`
	Topic         string    `json:"topic"`
	StartedAt     time.Time `json:"started_at"`
	TotalMessages int       `json:"total_messages"`
}

// ChatMessage is a single stored chat turn. ButtonsOffered holds the
// suggested reply buttons attached to an assistant message, nil for kid
// messages.
type ChatMessage struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	From           Sender    `json:"from_type"`
	Text           string    `json:"message_text"`
	ButtonsOffered []string  `json:"buttons_offered,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
