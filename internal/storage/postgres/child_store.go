package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nestline/chatnest/internal/storage"
)

type childStore struct {
	db *sql.DB
}

const childColumns = `id, parent_id, name, age, username, password_hash, daily_limit_minutes, created_at, updated_at`

// Get retrieves a child by ID
func (s *childStore) Get(ctx context.Context, id string) (*storage.Child, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+childColumns+` FROM children WHERE id = $1`, id)
	return scanChild(row)
}

// GetByUsername retrieves a child by login username
func (s *childStore) GetByUsername(ctx context.Context, username string) (*storage.Child, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+childColumns+` FROM children WHERE username = $1`, username)
	return scanChild(row)
}

// ListByParent returns all children belonging to a parent
func (s *childStore) ListByParent(ctx context.Context, parentID string) ([]storage.Child, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+childColumns+` FROM children WHERE parent_id = $1 ORDER BY created_at`, parentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	children := make([]storage.Child, 0)
	for rows.Next() {
		var c storage.Child
		err := rows.Scan(&c.ID, &c.ParentID, &c.Name, &c.Age, &c.Username,
			&c.PasswordHash, &c.DailyLimitMinutes, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, err
		}
		children = append(children, c)
	}

	return children, rows.Err()
}

// Create inserts a new child account
func (s *childStore) Create(ctx context.Context, child storage.Child) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO children (id, parent_id, name, age, username, password_hash, daily_limit_minutes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		child.ID, child.ParentID, child.Name, child.Age, child.Username,
		child.PasswordHash, child.DailyLimitMinutes, child.CreatedAt, child.UpdatedAt)
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

// Update persists mutable child fields
func (s *childStore) Update(ctx context.Context, child storage.Child) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE children SET name = $2, age = $3, username = $4, password_hash = $5,
		 daily_limit_minutes = $6, updated_at = $7 WHERE id = $1`,
		child.ID, child.Name, child.Age, child.Username, child.PasswordHash,
		child.DailyLimitMinutes, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return err
	}
	return requireRow(res)
}

// GetDailyLimit returns the child's configured daily limit in minutes
func (s *childStore) GetDailyLimit(ctx context.Context, id string) (int, error) {
	var minutes int
	err := s.db.QueryRowContext(ctx,
		`SELECT daily_limit_minutes FROM children WHERE id = $1`, id).Scan(&minutes)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return minutes, nil
}

// SetDailyLimit updates the child's daily limit in minutes
func (s *childStore) SetDailyLimit(ctx context.Context, id string, minutes int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE children SET daily_limit_minutes = $2, updated_at = $3 WHERE id = $1`,
		id, minutes, time.Now())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanChild(row *sql.Row) (*storage.Child, error) {
	var c storage.Child
	err := row.Scan(&c.ID, &c.ParentID, &c.Name, &c.Age, &c.Username,
		&c.PasswordHash, &c.DailyLimitMinutes, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
