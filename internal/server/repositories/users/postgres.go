// Package users provides the PostgreSQL-backed store for user accounts.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/bhopmaps/internal/common"
	"github.com/dmitrijs2005/bhopmaps/internal/dbx"
	"github.com/dmitrijs2005/bhopmaps/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts user and fills CreatedAt/UpdatedAt from the database.
// A taken username yields common.ErrConflict.
func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (id, username, password_hash, avatar, is_beta, beta_key)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.ID, user.UserName, user.PasswordHash, user.Avatar, user.IsBeta, user.BetaKey).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const selectUser = `SELECT id, username, password_hash, avatar, is_beta, beta_key, created_at, updated_at FROM users`

func scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.UserName, &user.PasswordHash, &user.Avatar,
		&user.IsBeta, &user.BetaKey, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

// GetByID returns the user with the given id or common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, selectUser+` WHERE id = $1`, id))
}

// GetByUsername looks a user up by the (already lowercased) username.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, selectUser+` WHERE username = $1`, username))
}

// UpdateProfile rewrites username and avatar only. The password hash and
// creation time are not part of the statement and cannot be overwritten here.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, id, username, avatar string) (*models.User, error) {
	query :=
		`UPDATE users SET username = $2, avatar = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING id, username, password_hash, avatar, is_beta, beta_key, created_at, updated_at
		 `

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id, username, avatar))
	if err != nil && dbx.IsUniqueViolation(err) {
		return nil, common.ErrConflict
	}
	return user, err
}

// Delete removes the user row. It returns common.ErrorNotFound when nothing
// was deleted.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
