package datamanager

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// CursorCollection holds one pull cursor per entity type.
const CursorCollection = "sync_cursors"

// LoadCursor returns the stored cursor for t, or an empty one.
func LoadCursor(ctx context.Context, kv store.KV, t models.EntityType) (models.Cursor, error) {
	c, err := store.GetJSON[models.Cursor](ctx, kv, CursorCollection, string(t))
	if errors.Is(err, common.ErrNotFound) {
		return models.Cursor{EntityType: t}, nil
	}
	return c, err
}

func SaveCursor(ctx context.Context, kv store.KV, c models.Cursor) error {
	return store.PutJSON(ctx, kv, CursorCollection, string(c.EntityType), c)
}

// ResetCursor makes the next pull of t start from the beginning.
func ResetCursor(ctx context.Context, kv store.KV, t models.EntityType) error {
	return kv.Delete(ctx, CursorCollection, string(t))
}

// Cursor returns the stored pull cursor for t.
func (m *Manager) Cursor(ctx context.Context, t models.EntityType) (models.Cursor, error) {
	return LoadCursor(ctx, m.store, t)
}
