package repository

import (
	"context"
	"database/sql"
	"strings"
)

// UserDirectory is a read-only view over the identity provider's user table.
// The sweeper uses it to recover the owner of a webhook whose session never
// resolved to a user.
type UserDirectory struct {
	db DBTX
}

func NewUserDirectory(db DBTX) *UserDirectory {
	return &UserDirectory{db: db}
}

func (r *UserDirectory) FindIDByEmail(ctx context.Context, email string) (string, error) {
	query := `SELECT id FROM users WHERE LOWER(email) = ? LIMIT 1`

	var id string
	err := r.db.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(email))).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return id, nil
}

func (r *UserDirectory) FindEmailByID(ctx context.Context, id string) (string, error) {
	query := `SELECT email FROM users WHERE id = ? LIMIT 1`

	var email string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&email)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return email, nil
}
