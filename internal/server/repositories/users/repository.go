package users

import (
	"context"

	"github.com/dmitrijs2005/bhopmaps/internal/server/models"
)

// Repository persists User records.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateProfile(ctx context.Context, id, username, avatar string) (*models.User, error)
	Delete(ctx context.Context, id string) error
}
