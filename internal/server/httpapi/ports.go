// Package httpapi exposes the bhopmaps services over HTTP with echo.
package httpapi

import (
	"context"

	"github.com/dmitrijs2005/bhopmaps/internal/server/models"
	"github.com/dmitrijs2005/bhopmaps/internal/server/services"
)

// UserService is the identity surface used by the handlers.
type UserService interface {
	Register(ctx context.Context, username, password, avatar string) (*models.User, error)
	Login(ctx context.Context, username, password string) (string, *models.User, error)
	CurrentUser(ctx context.Context, token string) (*models.User, error)
	GetByUsername(ctx context.Context, name string) (*models.User, error)
}

// MapService is the asset lifecycle surface used by the handlers.
type MapService interface {
	Upload(ctx context.Context, token string, in services.UploadInput) (*models.Map, error)
	Download(ctx context.Context, id string) (string, *models.Map, error)
	Get(ctx context.Context, id string) (*models.Map, error)
	ListAll(ctx context.Context) ([]*models.Map, error)
	ListByAuthor(ctx context.Context, authorID string) ([]*models.Map, error)
	Delete(ctx context.Context, token, id string) error
	UpdateProfile(ctx context.Context, token string, in services.ProfileUpdate) (*models.User, error)
	DeleteAccount(ctx context.Context, token string) error
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error
