package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/tubeauth/internal/dbx"
	"github.com/dmitrijs2005/tubeauth/internal/server/repositories/accounts"
)

// RepositoryManager vends repositories bound to a DBTX so that services can
// use the same repository type with *sql.DB or inside a transaction.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
}
