package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver
	"github.com/nestline/chatnest/internal/config"
	"github.com/nestline/chatnest/internal/storage"
)

// Store implements the storage.Store interface using PostgreSQL
type Store struct {
	db          *sql.DB
	parentStore *parentStore
	childStore  *childStore
	chatStore   *chatStore
}

// Open connects to PostgreSQL and applies schema migrations
func Open(cfg config.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	store := &Store{
		db:          db,
		parentStore: &parentStore{db: db},
		childStore:  &childStore{db: db},
		chatStore:   &chatStore{db: db},
	}

	return store, nil
}

// Close closes the database connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// Parents returns the ParentStore implementation
func (s *Store) Parents() storage.ParentStore {
	return s.parentStore
}

// Children returns the ChildStore implementation
func (s *Store) Children() storage.ChildStore {
	return s.childStore
}

// Chats returns the ChatStore implementation
func (s *Store) Chats() storage.ChatStore {
	return s.chatStore
}

// migrate applies the schema. All statements are idempotent.
func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS parents (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_login TIMESTAMPTZ NULL
		);`,
		`CREATE TABLE IF NOT EXISTS children (
			id TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL REFERENCES parents(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			age INTEGER NOT NULL DEFAULT 0,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			daily_limit_minutes INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_children_parent_id ON children(parent_id);`,
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			child_id TEXT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
			topic TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_child_id ON chat_sessions(child_id);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			from_type TEXT NOT NULL,
			message_text TEXT NOT NULL,
			buttons_offered TEXT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_id ON chat_messages(session_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement failed: %w", err)
		}
	}

	return nil
}

// isUniqueViolation reports whether err is a unique constraint violation.
// pgx surfaces these as SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
