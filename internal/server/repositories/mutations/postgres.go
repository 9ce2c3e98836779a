// Package mutations remembers applied mutation ids so a replayed push gets
// the original answer instead of being applied twice.
package mutations

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
)

type Repository interface {
	// Get returns the stored result or common.ErrNotFound.
	Get(ctx context.Context, tenantID, mutationID string) ([]byte, error)
	Save(ctx context.Context, tenantID, mutationID string, result []byte) error
}

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, tenantID, mutationID string) ([]byte, error) {
	query := `SELECT result FROM mutations WHERE tenant_id = $1 AND mutation_id = $2`

	var result []byte
	err := r.db.QueryRowContext(ctx, query, tenantID, mutationID).Scan(&result)
	if err != nil {
		if dbx.IsNoRows(err) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Save(ctx context.Context, tenantID, mutationID string, result []byte) error {
	query := `INSERT INTO mutations (tenant_id, mutation_id, result) VALUES ($1, $2, $3)`

	if _, err := r.db.ExecContext(ctx, query, tenantID, mutationID, result); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
