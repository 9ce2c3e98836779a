package backend

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/rpc"
)

// Backend is the remote side of synchronization.
type Backend interface {
	PushCreate(ctx context.Context, m models.Mutation) (models.ServerRecord, error)
	PushUpdate(ctx context.Context, m models.Mutation) (models.ServerRecord, error)
	PushDelete(ctx context.Context, m models.Mutation) error
	// PullChangesSince returns up to limit changes of type t after cursor.
	// An empty cursor starts from the beginning.
	PullChangesSince(ctx context.Context, t models.EntityType, cursor string, limit int) (models.ChangeSet, error)
	// FetchRecord returns the current server copy, tombstones included.
	FetchRecord(ctx context.Context, t models.EntityType, id string) (models.ServerRecord, error)
	Ping(ctx context.Context) error
}

func toMutation(m models.Mutation) rpc.Mutation {
	return rpc.Mutation{
		MutationID:  m.MutationID,
		Type:        string(m.Type),
		ID:          m.ID,
		BaseVersion: m.BaseVersion,
		Payload:     m.Payload,
	}
}

func fromRecord(r rpc.Record) models.ServerRecord {
	return models.ServerRecord{
		Type:      models.EntityType(r.Type),
		ID:        r.ID,
		Data:      r.Data,
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt,
		Deleted:   r.Deleted,
	}
}
