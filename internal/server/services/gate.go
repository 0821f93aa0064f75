package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/bhopmaps/internal/common"
	"github.com/dmitrijs2005/bhopmaps/internal/server/models"
	"github.com/dmitrijs2005/bhopmaps/internal/server/repositories/repomanager"
)

// SessionVerifier resolves a session token to a user id.
type SessionVerifier interface {
	VerifySession(token string) (string, error)
}

// OwnershipGate decides whether a session may mutate a map. Only the author
// of a map may delete it or rewrite it.
type OwnershipGate struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	sessions    SessionVerifier
}

func NewOwnershipGate(db *sql.DB, m repomanager.RepositoryManager, sessions SessionVerifier) *OwnershipGate {
	return &OwnershipGate{db: db, repomanager: m, sessions: sessions}
}

// Authorize verifies token, loads mapID and checks ownership.
// Errors: common.ErrInvalidSession, common.ErrorNotFound, common.ErrForbidden.
func (g *OwnershipGate) Authorize(ctx context.Context, token, mapID string) (string, *models.Map, error) {
	userID, err := g.sessions.VerifySession(token)
	if err != nil {
		return "", nil, err
	}

	m, err := g.repomanager.Maps(g.db).GetByID(ctx, mapID)
	if err != nil {
		return "", nil, err
	}

	if err := g.Check(userID, m); err != nil {
		return "", nil, err
	}
	return userID, m, nil
}

// Check reports common.ErrForbidden unless userID authored m.
func (g *OwnershipGate) Check(userID string, m *models.Map) error {
	if m == nil || userID == "" || m.AuthorID != userID {
		id := ""
		if m != nil {
			id = m.ID
		}
		return fmt.Errorf("%w: map %q is not owned by the caller", common.ErrForbidden, id)
	}
	return nil
}
