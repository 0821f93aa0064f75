package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/bhopmaps/internal/dbx"
	"github.com/dmitrijs2005/bhopmaps/internal/server/repositories/maps"
	"github.com/dmitrijs2005/bhopmaps/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX so the same code
// path works on a pool and inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Maps(db dbx.DBTX) maps.Repository
}
