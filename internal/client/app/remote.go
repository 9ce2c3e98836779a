package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/backend"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/jsonx"
	"github.com/google/uuid"
)

// remoteRecords serves Records straight from the backend. It is used when
// the local store cannot be opened: nothing is cached and every call needs
// connectivity.
type remoteRecords struct {
	backend  backend.Backend
	pageSize int
	timeout  time.Duration
}

func (r remoteRecords) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r remoteRecords) Create(ctx context.Context, t models.EntityType, id string, data json.RawMessage) (models.RawRecord, error) {
	if err := validate(t, data); err != nil {
		return models.RawRecord{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := r.call(ctx)
	defer cancel()
	rec, err := r.backend.PushCreate(ctx, models.Mutation{MutationID: uuid.NewString(), Type: t, ID: id, Payload: data})
	if err != nil {
		return models.RawRecord{}, err
	}
	return fromServer(rec), nil
}

func (r remoteRecords) Update(ctx context.Context, t models.EntityType, id string, patch json.RawMessage) (models.RawRecord, error) {
	cur, err := r.Get(ctx, t, id)
	if err != nil {
		return models.RawRecord{}, err
	}
	merged, err := jsonx.MergePatch(cur.Data, patch)
	if err != nil {
		return models.RawRecord{}, common.Invalid("patch", err.Error())
	}
	if err := validate(t, merged); err != nil {
		return models.RawRecord{}, err
	}
	ctx, cancel := r.call(ctx)
	defer cancel()
	rec, err := r.backend.PushUpdate(ctx, models.Mutation{MutationID: uuid.NewString(), Type: t, ID: id, BaseVersion: cur.Version, Payload: patch})
	if err != nil {
		return models.RawRecord{}, err
	}
	return fromServer(rec), nil
}

func (r remoteRecords) Delete(ctx context.Context, t models.EntityType, id string) error {
	cur, err := r.Get(ctx, t, id)
	if err != nil {
		return err
	}
	ctx, cancel := r.call(ctx)
	defer cancel()
	return r.backend.PushDelete(ctx, models.Mutation{MutationID: uuid.NewString(), Type: t, ID: id, BaseVersion: cur.Version})
}

func (r remoteRecords) Get(ctx context.Context, t models.EntityType, id string) (models.RawRecord, error) {
	ctx, cancel := r.call(ctx)
	defer cancel()
	rec, err := r.backend.FetchRecord(ctx, t, id)
	if err != nil {
		return models.RawRecord{}, err
	}
	if rec.Deleted {
		return models.RawRecord{}, fmt.Errorf("%w: %s %s", common.ErrNotFound, t, id)
	}
	return fromServer(rec), nil
}

// List walks the whole change feed of t. The backend keeps one row per
// record, so the feed holds each record once.
func (r remoteRecords) List(ctx context.Context, t models.EntityType, includeDeleted bool) ([]models.RawRecord, error) {
	var (
		out    []models.RawRecord
		cursor string
	)
	for {
		cctx, cancel := r.call(ctx)
		page, err := r.backend.PullChangesSince(cctx, t, cursor, r.pageSize)
		cancel()
		if err != nil {
			return nil, err
		}
		for _, rec := range page.Records {
			if rec.Deleted && !includeDeleted {
				continue
			}
			out = append(out, fromServer(rec))
		}
		if !page.HasMore || page.NextCursor == "" || page.NextCursor == cursor {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

func validate(t models.EntityType, data json.RawMessage) error {
	switch t {
	case models.EntityAsset:
		return validateAs[models.Asset](data)
	case models.EntityVessel:
		return validateAs[models.Vessel](data)
	case models.EntityScan:
		return validateAs[models.Scan](data)
	}
	return common.Invalid("type", fmt.Sprintf("unknown entity type %q", t))
}

func validateAs[T models.Entity](data json.RawMessage) error {
	var v T
	if err := decodeStrict(data, &v); err != nil {
		return err
	}
	return v.Validate()
}

func fromServer(rec models.ServerRecord) models.RawRecord {
	at := rec.UpdatedAt
	return models.RawRecord{
		ID:              rec.ID,
		Type:            rec.Type,
		Data:            rec.Data,
		Version:         rec.Version,
		Deleted:         rec.Deleted,
		LocalUpdatedAt:  rec.UpdatedAt,
		ServerUpdatedAt: &at,
		SyncState:       models.SyncStateSynced,
	}
}
