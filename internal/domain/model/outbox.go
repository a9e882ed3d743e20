package model

import (
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is one pending log record, written atomically with the business
// state change that produced it. Rows exist only in the unpublished state: a
// successful publish deletes the row. Position is assigned by the store and
// defines the publish order; created_at can tie within one transaction.
type OutboxEvent struct {
	Position    int64     `json:"position"`
	ID          uuid.UUID `json:"id"`
	AggregateID string    `json:"aggregateId"`
	EventType   string    `json:"eventType"`
	Topic       string    `json:"topic"`
	Payload     []byte    `json:"payload"`
	CreatedAt   time.Time `json:"createdAt"`
}

// QuarantinedEvent is an outbox row whose payload could not be deserialized.
// It is moved out of the hot path so it can never block the poller.
type QuarantinedEvent struct {
	OutboxEvent
	Reason        string    `json:"reason"`
	QuarantinedAt time.Time `json:"quarantinedAt"`
}
