// Package services holds the reference backend's business rules: version
// checks, idempotent replays and the per-type change feed.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/jsonx"
	"github.com/dmitrijs2005/fieldsync/internal/server/models"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/repomanager"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// RecordService applies pushes and serves pulls for every tenant.
type RecordService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	now         func() time.Time
}

func NewRecordService(db *sql.DB, repomanager repomanager.RepositoryManager) *RecordService {
	return &RecordService{db: db, repomanager: repomanager, now: time.Now}
}

// Push applies m in one transaction. A mutation id seen before returns the
// stored result. A base version that differs from the stored one is
// common.ErrConflict; creates of an existing live id are conflicts too.
func (s *RecordService) Push(ctx context.Context, tenantID string, m models.Mutation) (*models.Record, error) {
	if err := validateMutation(m); err != nil {
		return nil, err
	}

	var result *models.Record
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		mutationRepo := s.repomanager.Mutations(tx)
		recordRepo := s.repomanager.Records(tx)

		stored, err := mutationRepo.Get(ctx, tenantID, m.MutationID)
		switch {
		case err == nil:
			result = &models.Record{}
			return json.Unmarshal(stored, result)
		case !errors.Is(err, common.ErrNotFound):
			return err
		}

		cur, err := recordRepo.Get(ctx, tenantID, m.EntityType, m.ID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		next, err := apply(cur, m)
		if err != nil {
			return err
		}

		version, err := s.repomanager.Tenants(tx).IncrementCurrentVersion(ctx, tenantID)
		if err != nil {
			return err
		}
		next.TenantID = tenantID
		next.EntityType = m.EntityType
		next.ID = m.ID
		next.Version = version
		next.UpdatedAt = s.now().UTC()

		if err := recordRepo.Upsert(ctx, next); err != nil {
			return err
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if err := mutationRepo.Save(ctx, tenantID, m.MutationID, encoded); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func validateMutation(m models.Mutation) error {
	switch {
	case m.MutationID == "":
		return common.Invalid("mutation_id", "is required")
	case m.EntityType == "":
		return common.Invalid("type", "is required")
	case m.ID == "":
		return common.Invalid("id", "is required")
	}
	switch m.Operation {
	case models.OpCreate, models.OpUpdate:
		var obj map[string]any
		if err := json.Unmarshal(m.Payload, &obj); err != nil || obj == nil {
			return common.Invalid("payload", "must be a JSON object")
		}
	case models.OpDelete:
	default:
		return common.Invalid("operation", fmt.Sprintf("unknown operation %q", m.Operation))
	}
	return nil
}

// apply computes the new row for m on top of cur (nil when absent).
func apply(cur *models.Record, m models.Mutation) (*models.Record, error) {
	live := cur != nil && !cur.Deleted
	switch m.Operation {
	case models.OpCreate:
		if live {
			return nil, fmt.Errorf("%w: %s %s already exists", common.ErrConflict, m.EntityType, m.ID)
		}
		return &models.Record{Data: m.Payload}, nil

	case models.OpUpdate:
		if !live {
			return nil, fmt.Errorf("%w: %s %s", common.ErrNotFound, m.EntityType, m.ID)
		}
		if m.BaseVersion != cur.Version {
			return nil, fmt.Errorf("%w: base version %d, current %d", common.ErrConflict, m.BaseVersion, cur.Version)
		}
		data, err := jsonx.MergePatch(cur.Data, m.Payload)
		if err != nil {
			return nil, common.Invalid("payload", err.Error())
		}
		return &models.Record{Data: data}, nil

	default:
		if !live {
			return nil, fmt.Errorf("%w: %s %s", common.ErrNotFound, m.EntityType, m.ID)
		}
		if m.BaseVersion != 0 && m.BaseVersion != cur.Version {
			return nil, fmt.Errorf("%w: base version %d, current %d", common.ErrConflict, m.BaseVersion, cur.Version)
		}
		return &models.Record{Deleted: true}, nil
	}
}

// Pull returns changes of entityType after cursor. The cursor is the
// decimal version of the last change the client has seen.
func (s *RecordService) Pull(ctx context.Context, tenantID, entityType, cursor string, limit int) ([]*models.Record, string, bool, error) {
	var after int64
	if cursor != "" {
		v, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil || v < 0 {
			return nil, "", false, common.Invalid("cursor", "must be a version number")
		}
		after = v
	}
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	// One extra row tells whether another page exists.
	rows, err := s.repomanager.Records(s.db).SelectSince(ctx, tenantID, entityType, after, limit+1)
	if err != nil {
		return nil, "", false, err
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	next := cursor
	if len(rows) > 0 {
		next = strconv.FormatInt(rows[len(rows)-1].Version, 10)
	}
	return rows, next, hasMore, nil
}

// Get returns the current row, tombstones included.
func (s *RecordService) Get(ctx context.Context, tenantID, entityType, id string) (*models.Record, error) {
	return s.repomanager.Records(s.db).Get(ctx, tenantID, entityType, id)
}
