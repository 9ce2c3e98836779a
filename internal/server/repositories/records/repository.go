package records

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/server/models"
)

type Repository interface {
	// Get returns common.ErrNotFound when no row exists.
	Get(ctx context.Context, tenantID, entityType, id string) (*models.Record, error)
	Upsert(ctx context.Context, r *models.Record) error
	// SelectSince returns up to limit rows with version > after, oldest first.
	SelectSince(ctx context.Context, tenantID, entityType string, after int64, limit int) ([]*models.Record, error)
}
