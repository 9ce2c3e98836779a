package models

import (
	"encoding/json"
	"time"
)

// SyncState tracks how a local record relates to the backend.
type SyncState string

const (
	SyncStateSynced   SyncState = "synced"
	SyncStatePending  SyncState = "pending"
	SyncStateConflict SyncState = "conflict"
)

// RemoteSnapshot is the server copy retained next to a conflicting local record.
type RemoteSnapshot struct {
	Data      json.RawMessage `json:"data,omitempty"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Deleted   bool            `json:"deleted"`
}

// LocalRecord wraps an entity with its sync bookkeeping. Version and
// ServerUpdatedAt are the last values confirmed by the backend (zero and nil
// until the first sync).
type LocalRecord[T any] struct {
	ID              string          `json:"id"`
	Type            EntityType      `json:"type"`
	Data            T               `json:"data"`
	Version         int64           `json:"version"`
	Dirty           bool            `json:"dirty"`
	Deleted         bool            `json:"deleted"`
	LocalUpdatedAt  time.Time       `json:"local_updated_at"`
	ServerUpdatedAt *time.Time      `json:"server_updated_at,omitempty"`
	SyncState       SyncState       `json:"sync_state"`
	Remote          *RemoteSnapshot `json:"remote,omitempty"`
}

// RawRecord is the untyped form used by code that handles every entity type.
// It shares its JSON encoding with LocalRecord[T].
type RawRecord = LocalRecord[json.RawMessage]

// ToRaw converts a typed record to its untyped form.
func ToRaw[T any](r LocalRecord[T]) (RawRecord, error) {
	data, err := json.Marshal(r.Data)
	if err != nil {
		return RawRecord{}, err
	}
	return RawRecord{
		ID:              r.ID,
		Type:            r.Type,
		Data:            data,
		Version:         r.Version,
		Dirty:           r.Dirty,
		Deleted:         r.Deleted,
		LocalUpdatedAt:  r.LocalUpdatedAt,
		ServerUpdatedAt: r.ServerUpdatedAt,
		SyncState:       r.SyncState,
		Remote:          r.Remote,
	}, nil
}

// FromRaw converts an untyped record to LocalRecord[T].
func FromRaw[T any](r RawRecord) (LocalRecord[T], error) {
	out := LocalRecord[T]{
		ID:              r.ID,
		Type:            r.Type,
		Version:         r.Version,
		Dirty:           r.Dirty,
		Deleted:         r.Deleted,
		LocalUpdatedAt:  r.LocalUpdatedAt,
		ServerUpdatedAt: r.ServerUpdatedAt,
		SyncState:       r.SyncState,
		Remote:          r.Remote,
	}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &out.Data); err != nil {
			return out, err
		}
	}
	return out, nil
}
