package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nestline/chatnest/internal/storage"
)

type parentStore struct {
	db *sql.DB
}

// Get retrieves a parent by ID
func (s *parentStore) Get(ctx context.Context, id string) (*storage.Parent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, username, password_hash, created_at, updated_at, last_login
		 FROM parents WHERE id = $1`, id)
	return scanParent(row)
}

// GetByEmail retrieves a parent by email address
func (s *parentStore) GetByEmail(ctx context.Context, email string) (*storage.Parent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, username, password_hash, created_at, updated_at, last_login
		 FROM parents WHERE email = $1`, email)
	return scanParent(row)
}

// Create inserts a new parent account
func (s *parentStore) Create(ctx context.Context, parent storage.Parent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parents (id, email, username, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		parent.ID, parent.Email, parent.Username, parent.PasswordHash,
		parent.CreatedAt, parent.UpdatedAt)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

// Update persists mutable parent fields
func (s *parentStore) Update(ctx context.Context, parent storage.Parent) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE parents SET email = $2, username = $3, password_hash = $4, updated_at = $5
		 WHERE id = $1`,
		parent.ID, parent.Email, parent.Username, parent.PasswordHash, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return err
	}
	return requireRow(res)
}

// UpdateLastLogin records the parent's most recent successful login
func (s *parentStore) UpdateLastLogin(ctx context.Context, id string, loginTime time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE parents SET last_login = $2 WHERE id = $1`, id, loginTime)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanParent(row *sql.Row) (*storage.Parent, error) {
	var p storage.Parent
	var lastLogin sql.NullTime

	err := row.Scan(&p.ID, &p.Email, &p.Username, &p.PasswordHash,
		&p.CreatedAt, &p.UpdatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if lastLogin.Valid {
		p.LastLogin = &lastLogin.Time
	}

	return &p, nil
}

// requireRow converts a zero-row update into ErrNotFound
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
