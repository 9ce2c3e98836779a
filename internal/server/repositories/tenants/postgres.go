// Package tenants keeps the per-tenant version counter that orders changes.
package tenants

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/dbx"
)

type Repository interface {
	// IncrementCurrentVersion bumps and returns the tenant's counter,
	// creating it on first use.
	IncrementCurrentVersion(ctx context.Context, tenantID string) (int64, error)
}

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) IncrementCurrentVersion(ctx context.Context, tenantID string) (int64, error) {
	query :=
		`INSERT INTO tenant_versions (tenant_id, current) VALUES ($1, 1)
		 ON CONFLICT (tenant_id) DO UPDATE SET current = tenant_versions.current + 1
		 RETURNING current
		 `

	var version int64
	if err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&version); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return version, nil
}
