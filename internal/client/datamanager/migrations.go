package datamanager

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
)

// Migrations are the data migrations the record layout needs on top of the
// store's own schema. Pass them to store.Open with store.WithMigrations.
func Migrations() []store.Migration {
	return []store.Migration{
		{Version: 2, Name: "backfill_sync_state", Up: backfillSyncState},
	}
}

// backfillSyncState upgrades records written before sync_state and
// local_updated_at existed. Such records only carried the dirty flag, so a
// dirty record becomes pending and a clean one synced.
func backfillSyncState(ctx context.Context, tx store.KV, _ int64) error {
	for _, t := range models.EntityTypes {
		items, err := tx.QueryAll(ctx, t.Collection(), nil)
		if err != nil {
			return err
		}
		for _, it := range items {
			var doc map[string]any
			if err := json.Unmarshal(it.Value, &doc); err != nil {
				return fmt.Errorf("decode %s/%s: %w", t.Collection(), it.Key, err)
			}
			changed := false
			if _, ok := doc["sync_state"]; !ok {
				state := models.SyncStateSynced
				if dirty, _ := doc["dirty"].(bool); dirty {
					state = models.SyncStatePending
				}
				doc["sync_state"] = state
				changed = true
			}
			if _, ok := doc["local_updated_at"]; !ok {
				if ts, ok := doc["server_updated_at"]; ok && ts != nil {
					doc["local_updated_at"] = ts
				} else {
					doc["local_updated_at"] = it.UpdatedAt.UTC().Format(time.RFC3339Nano)
				}
				changed = true
			}
			if _, ok := doc["type"]; !ok {
				doc["type"] = t
				changed = true
			}
			if !changed {
				continue
			}
			b, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			if err := tx.Put(ctx, t.Collection(), it.Key, b); err != nil {
				return err
			}
		}
	}
	return nil
}
