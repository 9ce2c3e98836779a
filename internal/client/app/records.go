package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/client/datamanager"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// Records is the untyped record API the CLI drives. Data is the entity's
// JSON document; patches are JSON merge patches.
type Records interface {
	Create(ctx context.Context, t models.EntityType, id string, data json.RawMessage) (models.RawRecord, error)
	Update(ctx context.Context, t models.EntityType, id string, patch json.RawMessage) (models.RawRecord, error)
	Delete(ctx context.Context, t models.EntityType, id string) error
	Get(ctx context.Context, t models.EntityType, id string) (models.RawRecord, error)
	List(ctx context.Context, t models.EntityType, includeDeleted bool) ([]models.RawRecord, error)
}

type entityOps interface {
	create(ctx context.Context, id string, data json.RawMessage) (models.RawRecord, error)
	update(ctx context.Context, id string, patch datamanager.Patch) (models.RawRecord, error)
	delete(ctx context.Context, id string) error
	get(ctx context.Context, id string) (models.RawRecord, error)
	list(ctx context.Context, includeDeleted bool) ([]models.RawRecord, error)
}

type collectionOps[T models.Entity] struct {
	c *datamanager.Collection[T]
}

func (o collectionOps[T]) create(ctx context.Context, id string, data json.RawMessage) (models.RawRecord, error) {
	var v T
	if err := decodeStrict(data, &v); err != nil {
		return models.RawRecord{}, err
	}
	var opts []datamanager.CreateOption
	if id != "" {
		opts = append(opts, datamanager.WithID(id))
	}
	rec, err := o.c.Create(ctx, v, opts...)
	if err != nil {
		return models.RawRecord{}, err
	}
	return models.ToRaw(rec)
}

func (o collectionOps[T]) update(ctx context.Context, id string, patch datamanager.Patch) (models.RawRecord, error) {
	rec, err := o.c.Update(ctx, id, patch)
	if err != nil {
		return models.RawRecord{}, err
	}
	return models.ToRaw(rec)
}

func (o collectionOps[T]) delete(ctx context.Context, id string) error {
	return o.c.Delete(ctx, id)
}

func (o collectionOps[T]) get(ctx context.Context, id string) (models.RawRecord, error) {
	rec, err := o.c.Get(ctx, id)
	if err != nil {
		return models.RawRecord{}, err
	}
	return models.ToRaw(rec)
}

func (o collectionOps[T]) list(ctx context.Context, includeDeleted bool) ([]models.RawRecord, error) {
	recs, err := o.c.List(ctx, datamanager.Filter[T]{IncludeDeleted: includeDeleted})
	if err != nil {
		return nil, err
	}
	out := make([]models.RawRecord, 0, len(recs))
	for _, r := range recs {
		raw, err := models.ToRaw(r)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// localRecords serves Records from the offline cache.
type localRecords struct {
	dm *datamanager.Manager
}

func (l localRecords) ops(t models.EntityType) (entityOps, error) {
	switch t {
	case models.EntityAsset:
		return collectionOps[models.Asset]{l.dm.Assets}, nil
	case models.EntityVessel:
		return collectionOps[models.Vessel]{l.dm.Vessels}, nil
	case models.EntityScan:
		return collectionOps[models.Scan]{l.dm.Scans}, nil
	}
	return nil, common.Invalid("type", fmt.Sprintf("unknown entity type %q", t))
}

func (l localRecords) Create(ctx context.Context, t models.EntityType, id string, data json.RawMessage) (models.RawRecord, error) {
	ops, err := l.ops(t)
	if err != nil {
		return models.RawRecord{}, err
	}
	return ops.create(ctx, id, data)
}

func (l localRecords) Update(ctx context.Context, t models.EntityType, id string, patch json.RawMessage) (models.RawRecord, error) {
	ops, err := l.ops(t)
	if err != nil {
		return models.RawRecord{}, err
	}
	var p datamanager.Patch
	if err := json.Unmarshal(patch, &p); err != nil {
		return models.RawRecord{}, common.Invalid("patch", err.Error())
	}
	return ops.update(ctx, id, p)
}

func (l localRecords) Delete(ctx context.Context, t models.EntityType, id string) error {
	ops, err := l.ops(t)
	if err != nil {
		return err
	}
	return ops.delete(ctx, id)
}

func (l localRecords) Get(ctx context.Context, t models.EntityType, id string) (models.RawRecord, error) {
	ops, err := l.ops(t)
	if err != nil {
		return models.RawRecord{}, err
	}
	return ops.get(ctx, id)
}

func (l localRecords) List(ctx context.Context, t models.EntityType, includeDeleted bool) ([]models.RawRecord, error) {
	ops, err := l.ops(t)
	if err != nil {
		return nil, err
	}
	return ops.list(ctx, includeDeleted)
}

func decodeStrict(data json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return common.Invalid("data", err.Error())
	}
	return nil
}
