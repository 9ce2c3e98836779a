package models

import (
	"encoding/json"
	"time"
)

// Cursor is the per-type pull watermark. Token is opaque and issued by the
// backend; an empty token means "from the beginning".
type Cursor struct {
	EntityType EntityType `json:"entity_type"`
	Token      string     `json:"token"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Mutation is what the sync service sends for one queue entry.
type Mutation struct {
	MutationID  string          `json:"mutation_id"`
	Type        EntityType      `json:"type"`
	ID          string          `json:"id"`
	BaseVersion int64           `json:"base_version"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// ServerRecord is the backend's canonical view of an entity.
type ServerRecord struct {
	Type      EntityType      `json:"type"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Deleted   bool            `json:"deleted"`
}

// Snapshot converts a server record into the form retained on conflict.
func (r ServerRecord) Snapshot() *RemoteSnapshot {
	return &RemoteSnapshot{Data: r.Data, Version: r.Version, UpdatedAt: r.UpdatedAt, Deleted: r.Deleted}
}

// ChangeSet is one page of remote changes.
type ChangeSet struct {
	Records    []ServerRecord `json:"records"`
	NextCursor string         `json:"next_cursor"`
	HasMore    bool           `json:"has_more"`
}
