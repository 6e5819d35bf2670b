package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrConflict is returned when a unique constraint is violated
// (duplicate parent email, duplicate child username).
var ErrConflict = errors.New("storage: record already exists")

// Store represents the root relational storage interface.
type Store interface {
	Close() error
	Parents() ParentStore
	Children() ChildStore
	Chats() ChatStore
}

// ParentStore manages parent accounts.
type ParentStore interface {
	Get(ctx context.Context, id string) (*Parent, error)
	GetByEmail(ctx context.Context, email string) (*Parent, error)
	Create(ctx context.Context, parent Parent) error
	Update(ctx context.Context, parent Parent) error
	UpdateLastLogin(ctx context.Context, id string, loginTime time.Time) error
}

// ChildStore manages child accounts and their daily usage limits.
type ChildStore interface {
	Get(ctx context.Context, id string) (*Child, error)
	GetByUsername(ctx context.Context, username string) (*Child, error)
	ListByParent(ctx context.Context, parentID string) ([]Child, error)
	Create(ctx context.Context, child Child) error
	Update(ctx context.Context, child Child) error
	GetDailyLimit(ctx context.Context, id string) (int, error)
	SetDailyLimit(ctx context.Context, id string, minutes int) error
}

// ChatStore manages chat sessions and their messages.
type ChatStore interface {
	CreateSession(ctx context.Context, session ChatSession) error
	GetSession(ctx context.Context, id string) (*ChatSession, error)
	ListSessionsByChild(ctx context.Context, childID string) ([]ChatSession, error)
	AddMessage(ctx context.Context, message ChatMessage) error
	ListMessages(ctx context.Context, sessionID string) ([]ChatMessage, error)
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// UsageEventStore is the append-only login/logout event log for children.
// ListForDay must return a consistent snapshot of one subject's events for
// one calendar day (YYYY-MM-DD), ordered ascending by OccurredAt.
type UsageEventStore interface {
	Append(ctx context.Context, event UsageEvent) error
	ListForDay(ctx context.Context, subjectID, day string) ([]UsageEvent, error)
	DeleteDaysBefore(ctx context.Context, cutoffDay string) (int, error)
}
