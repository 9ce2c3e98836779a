// Package records provides the PostgreSQL repository for canonical entity
// rows and the per-type change feed.
package records

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, tenantID, entityType, id string) (*models.Record, error) {
	query := `SELECT data, version, updated_at, deleted FROM records
		WHERE tenant_id = $1 AND entity_type = $2 AND id = $3`

	rec := &models.Record{TenantID: tenantID, EntityType: entityType, ID: id}
	var data []byte
	err := r.db.QueryRowContext(ctx, query, tenantID, entityType, id).
		Scan(&data, &rec.Version, &rec.UpdatedAt, &rec.Deleted)
	if err != nil {
		if dbx.IsNoRows(err) {
			return nil, fmt.Errorf("%w: %s %s", common.ErrNotFound, entityType, id)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	rec.Data = data
	return rec, nil
}

// Upsert writes the row as given. Version checks happen in the service,
// inside the same transaction.
func (r *PostgresRepository) Upsert(ctx context.Context, rec *models.Record) error {
	query := `
		INSERT INTO records (tenant_id, entity_type, id, data, version, updated_at, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, entity_type, id)
		DO UPDATE SET
			data = EXCLUDED.data,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at,
			deleted = EXCLUDED.deleted;
	`
	var data any
	if len(rec.Data) > 0 {
		data = []byte(rec.Data)
	}
	res, err := r.db.ExecContext(ctx, query,
		rec.TenantID, rec.EntityType, rec.ID, data, rec.Version, rec.UpdatedAt, rec.Deleted)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

func (r *PostgresRepository) SelectSince(ctx context.Context, tenantID, entityType string, after int64, limit int) ([]*models.Record, error) {
	query := `SELECT id, data, version, updated_at, deleted FROM records
		WHERE tenant_id = $1 AND entity_type = $2 AND version > $3
		ORDER BY version
		LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query, tenantID, entityType, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*models.Record
	for rows.Next() {
		item := &models.Record{TenantID: tenantID, EntityType: entityType}
		var data []byte
		if err := rows.Scan(&item.ID, &data, &item.Version, &item.UpdatedAt, &item.Deleted); err != nil {
			return nil, err
		}
		item.Data = data
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
