package maps

import (
	"context"

	"github.com/dmitrijs2005/bhopmaps/internal/server/models"
)

// Repository persists Map metadata records.
type Repository interface {
	Create(ctx context.Context, m *models.Map) (*models.Map, error)
	GetByID(ctx context.Context, id string) (*models.Map, error)
	ListAll(ctx context.Context) ([]*models.Map, error)
	ListByAuthor(ctx context.Context, authorID string) ([]*models.Map, error)
	ListObjectKeys(ctx context.Context) ([]string, error)
	UpdateAuthor(ctx context.Context, authorID, author string) (int64, error)
	IncrementDownloads(ctx context.Context, id string) (*models.Map, error)
	Delete(ctx context.Context, id string) error
}
