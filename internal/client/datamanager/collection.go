package datamanager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/queue"
	"github.com/dmitrijs2005/fieldsync/internal/client/store"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/jsonx"
	"github.com/google/uuid"
)

// Patch is a partial update in JSON merge patch form: keys are the entity's
// JSON field names, a nil value clears the field.
type Patch map[string]any

// Collection is the typed CRUD surface for one entity type.
type Collection[T models.Entity] struct {
	m   *Manager
	typ models.EntityType
}

func newCollection[T models.Entity](m *Manager) *Collection[T] {
	var zero T
	return &Collection[T]{m: m, typ: zero.Kind()}
}

func (c *Collection[T]) Type() models.EntityType {
	return c.typ
}

type createOptions struct {
	id string
}

type CreateOption func(*createOptions)

// WithID creates the record under a caller-chosen id instead of a new UUID.
func WithID(id string) CreateOption {
	return func(o *createOptions) { o.id = id }
}

// Create validates input, stores it as a pending record and enqueues a
// create carrying the full document.
func (c *Collection[T]) Create(ctx context.Context, input T, opts ...CreateOption) (models.LocalRecord[T], error) {
	o := createOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	if err := input.Validate(); err != nil {
		return models.LocalRecord[T]{}, err
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return models.LocalRecord[T]{}, err
	}

	rec := models.LocalRecord[T]{
		ID:             o.id,
		Type:           c.typ,
		Data:           input,
		Dirty:          true,
		LocalUpdatedAt: c.m.now(),
		SyncState:      models.SyncStatePending,
	}

	err = c.m.WithTx(ctx, c.typ, func(ctx context.Context, tx store.KV, q *queue.Queue) error {
		_, err := tx.Get(ctx, c.typ.Collection(), rec.ID)
		if err == nil {
			return fmt.Errorf("%w: %s %s", common.ErrAlreadyExists, c.typ, rec.ID)
		}
		if !errors.Is(err, common.ErrNotFound) {
			return err
		}
		if err := store.PutJSON(ctx, tx, c.typ.Collection(), rec.ID, rec); err != nil {
			return err
		}
		_, err = q.Enqueue(ctx, models.QueueEntry{
			EntityType: c.typ,
			EntityID:   rec.ID,
			Operation:  models.OpCreate,
			Payload:    payload,
		})
		return err
	})
	if err != nil {
		return models.LocalRecord[T]{}, err
	}

	c.m.logger.Debug(ctx, "record created", "entity_type", c.typ, "entity_id", rec.ID)
	c.m.Publish(Change{Type: c.typ, ID: rec.ID, Kind: ChangeLocal})
	return rec, nil
}

// Update merges patch into the record, validates the result and enqueues an
// update carrying only the patch. A record in conflict stays in conflict.
func (c *Collection[T]) Update(ctx context.Context, id string, patch Patch) (models.LocalRecord[T], error) {
	if len(patch) == 0 {
		return models.LocalRecord[T]{}, common.Invalid("patch", "must not be empty")
	}
	rawPatch, err := json.Marshal(patch)
	if err != nil {
		return models.LocalRecord[T]{}, common.Invalid("patch", err.Error())
	}

	var rec models.LocalRecord[T]
	err = c.m.WithTx(ctx, c.typ, func(ctx context.Context, tx store.KV, q *queue.Queue) error {
		var err error
		rec, err = c.load(ctx, tx, id)
		if err != nil {
			return err
		}
		rec.Data, err = applyPatch(rec.Data, rawPatch)
		if err != nil {
			return err
		}
		rec.Dirty = true
		rec.LocalUpdatedAt = c.m.now()
		if rec.SyncState != models.SyncStateConflict {
			rec.SyncState = models.SyncStatePending
		}
		if err := store.PutJSON(ctx, tx, c.typ.Collection(), rec.ID, rec); err != nil {
			return err
		}
		_, err = q.Enqueue(ctx, models.QueueEntry{
			EntityType: c.typ,
			EntityID:   rec.ID,
			Operation:  models.OpUpdate,
			Payload:    rawPatch,
		})
		return err
	})
	if err != nil {
		return models.LocalRecord[T]{}, err
	}

	c.m.logger.Debug(ctx, "record updated", "entity_type", c.typ, "entity_id", id)
	c.m.Publish(Change{Type: c.typ, ID: id, Kind: ChangeLocal})
	return rec, nil
}

// Delete tombstones the record and enqueues a delete. A record whose create
// never left the device is purged outright together with its outbox entry.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	kind := ChangeLocal
	err := c.m.WithTx(ctx, c.typ, func(ctx context.Context, tx store.KV, q *queue.Queue) error {
		rec, err := c.load(ctx, tx, id)
		if err != nil {
			return err
		}
		res, err := q.Enqueue(ctx, models.QueueEntry{
			EntityType: c.typ,
			EntityID:   rec.ID,
			Operation:  models.OpDelete,
		})
		if err != nil {
			return err
		}
		if res.Cancelled {
			kind = ChangePurged
			return tx.Delete(ctx, c.typ.Collection(), rec.ID)
		}
		rec.Deleted = true
		rec.Dirty = true
		rec.LocalUpdatedAt = c.m.now()
		if rec.SyncState != models.SyncStateConflict {
			rec.SyncState = models.SyncStatePending
		}
		return store.PutJSON(ctx, tx, c.typ.Collection(), rec.ID, rec)
	})
	if err != nil {
		return err
	}

	c.m.logger.Debug(ctx, "record deleted", "entity_type", c.typ, "entity_id", id, "purged", kind == ChangePurged)
	c.m.Publish(Change{Type: c.typ, ID: id, Kind: kind})
	return nil
}

// Get returns a live record. Tombstones read as not found.
func (c *Collection[T]) Get(ctx context.Context, id string) (models.LocalRecord[T], error) {
	return c.load(ctx, c.m.store, id)
}

// Filter narrows List. The zero Filter returns every live record.
type Filter[T models.Entity] struct {
	IncludeDeleted bool
	// States keeps only records in one of the given sync states.
	States []models.SyncState
	// Match is applied to the decoded entity.
	Match func(T) bool
}

func (f Filter[T]) keep(r models.LocalRecord[T]) bool {
	if r.Deleted && !f.IncludeDeleted {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if r.SyncState == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return f.Match == nil || f.Match(r.Data)
}

// List returns matching records in creation order.
func (c *Collection[T]) List(ctx context.Context, f Filter[T]) ([]models.LocalRecord[T], error) {
	return store.QueryJSON(ctx, c.m.store, c.typ.Collection(), f.keep)
}

func (c *Collection[T]) load(ctx context.Context, kv store.KV, id string) (models.LocalRecord[T], error) {
	rec, err := store.GetJSON[models.LocalRecord[T]](ctx, kv, c.typ.Collection(), id)
	if err != nil {
		return rec, err
	}
	if rec.Deleted {
		return models.LocalRecord[T]{}, fmt.Errorf("%w: %s %s", common.ErrNotFound, c.typ, id)
	}
	return rec, nil
}

// applyPatch merges patch into cur. Fields the entity does not know and
// values of the wrong JSON type are rejected, and the result must validate.
func applyPatch[T models.Entity](cur T, patch json.RawMessage) (T, error) {
	var zero T
	doc, err := json.Marshal(cur)
	if err != nil {
		return zero, err
	}
	merged, err := jsonx.MergePatch(doc, patch)
	if err != nil {
		return zero, common.Invalid("patch", err.Error())
	}

	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	var out T
	if err := dec.Decode(&out); err != nil {
		return zero, common.Invalid("patch", err.Error())
	}
	if err := out.Validate(); err != nil {
		return zero, err
	}
	return out, nil
}
