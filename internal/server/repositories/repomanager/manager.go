package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/mutations"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/records"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/tenants"
)

// RepositoryManager vends repositories bound to a DBTX, so a service can use
// the same repositories inside and outside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Records(db dbx.DBTX) records.Repository
	Tenants(db dbx.DBTX) tenants.Repository
	Mutations(db dbx.DBTX) mutations.Repository
}
