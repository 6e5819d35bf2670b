package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nestline/chatnest/internal/storage"
)

type chatStore struct {
	db *sql.DB
}

// CreateSession inserts a new chat session
func (s *chatStore) CreateSession(ctx context.Context, session storage.ChatSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, child_id, topic, started_at)
		 VALUES ($1, $2, $3, $4)`,
		session.ID, session.ChildID, session.Topic, session.StartedAt)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

// GetSession retrieves a session with its message count
func (s *chatStore) GetSession(ctx context.Context, id string) (*storage.ChatSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT s.id, s.child_id, s.topic, s.started_at, COUNT(m.id)
		 FROM chat_sessions s
		 LEFT JOIN chat_messages m ON m.session_id = s.id
		 WHERE s.id = $1
		 GROUP BY s.id`, id)

	var sess storage.ChatSession
	err := row.Scan(&sess.ID, &sess.ChildID, &sess.Topic, &sess.StartedAt, &sess.TotalMessages)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessionsByChild returns a child's sessions, most recent first
func (s *chatStore) ListSessionsByChild(ctx context.Context, childID string) ([]storage.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.child_id, s.topic, s.started_at, COUNT(m.id)
		 FROM chat_sessions s
		 LEFT JOIN chat_messages m ON m.session_id = s.id
		 WHERE s.child_id = $1
		 GROUP BY s.id
		 ORDER BY s.started_at DESC`, childID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]storage.ChatSession, 0)
	for rows.Next() {
		var sess storage.ChatSession
		err := rows.Scan(&sess.ID, &sess.ChildID, &sess.Topic, &sess.StartedAt, &sess.TotalMessages)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

// AddMessage appends a message to a session
func (s *chatStore) AddMessage(ctx context.Context, message storage.ChatMessage) error {
	var buttons sql.NullString
	if len(message.ButtonsOffered) > 0 {
		encoded, err := json.Marshal(message.ButtonsOffered)
		if err != nil {
			return fmt.Errorf("failed to encode buttons: %w", err)
		}
		buttons = sql.NullString{String: string(encoded), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, from_type, message_text, buttons_offered, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		message.ID, message.SessionID, string(message.From), message.Text,
		buttons, message.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

// ListMessages returns a session's messages in chronological order
func (s *chatStore) ListMessages(ctx context.Context, sessionID string) ([]storage.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, from_type, message_text, buttons_offered, created_at
		 FROM chat_messages WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	messages := make([]storage.ChatMessage, 0)
	for rows.Next() {
		var msg storage.ChatMessage
		var from string
		var buttons sql.NullString

		err := rows.Scan(&msg.ID, &msg.SessionID, &from, &msg.Text, &buttons, &msg.CreatedAt)
		if err != nil {
			return nil, err
		}

		msg.From = storage.Sender(from)
		if buttons.Valid {
			if err := json.Unmarshal([]byte(buttons.String), &msg.ButtonsOffered); err != nil {
				return nil, fmt.Errorf("failed to decode buttons: %w", err)
			}
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// DeleteSessionsBefore removes sessions (and their messages, via cascade)
// started before the cutoff time
func (s *chatStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_sessions WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
