// Package models defines server-side data models persisted in the database.
package models

import (
	"encoding/json"
	"time"
)

// Record is the canonical server copy of one entity. Version is drawn from
// the tenant's monotonic counter, so it orders every change of the tenant.
type Record struct {
	TenantID   string          `json:"tenant_id"`
	EntityType string          `json:"type"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data,omitempty"`
	Version    int64           `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Deleted    bool            `json:"deleted"`
}

// Operation is the kind of pushed mutation.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Mutation is one change pushed by a client.
type Mutation struct {
	MutationID  string
	Operation   Operation
	EntityType  string
	ID          string
	BaseVersion int64
	Payload     json.RawMessage
}
