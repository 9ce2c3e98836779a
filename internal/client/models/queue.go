package models

import (
	"encoding/json"
	"time"
)

// Operation is the kind of outbound mutation.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// QueueStatus is the lifecycle state of an outbox entry. Completed entries are
// purged, so StatusCompleted is only ever reported, never stored.
type QueueStatus string

const (
	StatusPending   QueueStatus = "pending"
	StatusInFlight  QueueStatus = "in_flight"
	StatusFailed    QueueStatus = "failed"
	StatusCompleted QueueStatus = "completed"
)

// QueueEntry is one outstanding mutation. Payload is a snapshot taken at
// enqueue time: the full document for create, a merge patch for update and
// empty for delete. The entry ID doubles as the idempotency key sent to the
// backend.
type QueueEntry struct {
	ID            string          `json:"id"`
	EntityType    EntityType      `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Operation     Operation       `json:"operation"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	AttemptCount  int             `json:"attempt_count"`
	LastError     string          `json:"last_error,omitempty"`
	Status        QueueStatus     `json:"status"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	Held          bool            `json:"held,omitempty"`
	Permanent     bool            `json:"permanent,omitempty"`
}

// Eligible reports whether the entry may be pushed at now.
func (e QueueEntry) Eligible(now time.Time) bool {
	if e.Status != StatusPending || e.Held {
		return false
	}
	return e.NextAttemptAt == nil || !e.NextAttemptAt.After(now)
}
