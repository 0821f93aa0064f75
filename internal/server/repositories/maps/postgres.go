// Package maps provides the PostgreSQL-backed metadata store for uploaded
// map packages.
package maps

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/bhopmaps/internal/common"
	"github.com/dmitrijs2005/bhopmaps/internal/dbx"
	"github.com/dmitrijs2005/bhopmaps/internal/server/models"
)

const mapColumns = `id, object_key, author, author_id, map_name, description, thumbnail, downloads, game_type, source_url, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMap(s scanner) (*models.Map, error) {
	m := &models.Map{}
	err := s.Scan(&m.ID, &m.ObjectKey, &m.Author, &m.AuthorID, &m.MapName, &m.Description,
		&m.Thumbnail, &m.Downloads, &m.GameType, &m.SourceURL, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts m; downloads always start at zero regardless of m.Downloads.
// A clashing id or object key yields common.ErrConflict.
func (r *PostgresRepository) Create(ctx context.Context, m *models.Map) (*models.Map, error) {
	query := `
		INSERT INTO maps (id, object_key, author, author_id, map_name, description, thumbnail, game_type, source_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + mapColumns

	created, err := scanMap(r.db.QueryRowContext(ctx, query,
		m.ID, m.ObjectKey, m.Author, m.AuthorID, m.MapName, m.Description, m.Thumbnail, m.GameType, m.SourceURL))
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrConflict
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return created, nil
}

// GetByID returns the map with the given id or common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Map, error) {
	query := `SELECT ` + mapColumns + ` FROM maps WHERE id = $1`

	m, err := scanMap(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

// ListAll returns every map, newest first.
func (r *PostgresRepository) ListAll(ctx context.Context) ([]*models.Map, error) {
	return r.list(ctx, `SELECT `+mapColumns+` FROM maps ORDER BY created_at DESC`)
}

// ListByAuthor returns the maps owned by authorID, newest first.
func (r *PostgresRepository) ListByAuthor(ctx context.Context, authorID string) ([]*models.Map, error) {
	return r.list(ctx, `SELECT `+mapColumns+` FROM maps WHERE author_id = $1 ORDER BY created_at DESC`, authorID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.Map, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select maps: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Map, 0)
	for rows.Next() {
		m, err := scanMap(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListObjectKeys returns the object keys of every map, for reconciliation
// against the object store.
func (r *PostgresRepository) ListObjectKeys(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT object_key FROM maps`)
	if err != nil {
		return nil, fmt.Errorf("failed to select object keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// UpdateAuthor rewrites the denormalized author name on every map owned by
// authorID and reports how many rows changed.
func (r *PostgresRepository) UpdateAuthor(ctx context.Context, authorID, author string) (int64, error) {
	query := `UPDATE maps SET author = $2, updated_at = now() WHERE author_id = $1`
	res, err := r.db.ExecContext(ctx, query, authorID, author)
	if err != nil {
		return 0, fmt.Errorf("failed to update author: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// IncrementDownloads bumps the download counter in a single statement, so
// concurrent increments of the same map are never lost.
func (r *PostgresRepository) IncrementDownloads(ctx context.Context, id string) (*models.Map, error) {
	query := `UPDATE maps SET downloads = downloads + 1 WHERE id = $1 RETURNING ` + mapColumns

	m, err := scanMap(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

// Delete removes the map row; a missing row yields common.ErrorNotFound.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM maps WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete map: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("wrong rows affected count: %d", n)
	}
}
