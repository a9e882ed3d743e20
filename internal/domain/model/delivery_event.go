package model

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryEventType enumerates the events flowing over the orchestration topic.
type DeliveryEventType string

const (
	EventCreated   DeliveryEventType = "CREATED"
	EventRead      DeliveryEventType = "READ"
	EventCancelled DeliveryEventType = "CANCELLED"
	EventExpired   DeliveryEventType = "EXPIRED"
	EventFailed    DeliveryEventType = "FAILED"
)

// MessageDeliveryEvent is the wire payload of the orchestration topic.
//
// Two shapes travel under the same type:
//   - per-user events (UserID set) produced by write-side fan-out and by
//     lifecycle transitions of individual delivery rows;
//   - group events (UserID zero) produced by read-side fan-out, carrying the
//     target spec for the orchestrator to resolve at consume time.
type MessageDeliveryEvent struct {
	EventID       uuid.UUID         `json:"eventId"`
	BroadcastID   uuid.UUID         `json:"broadcastId"`
	UserID        uuid.UUID         `json:"userId,omitempty"`
	EventType     DeliveryEventType `json:"eventType"`
	Target        *TargetSpec       `json:"target,omitempty"`
	OccurredAt    time.Time         `json:"occurredAt"`
	Message       string            `json:"message,omitempty"`
	FireAndForget bool              `json:"fireAndForget,omitempty"`
	Transient     bool              `json:"transient,omitempty"`
}

// IsGroup reports whether the audience is resolved on read.
func (e *MessageDeliveryEvent) IsGroup() bool {
	return e.UserID == uuid.Nil
}

// PartitionKey keys the log record. Per-user events partition by user so that
// one user's events stay ordered; group events partition by broadcast.
func (e *MessageDeliveryEvent) PartitionKey() string {
	if e.IsGroup() {
		return e.BroadcastID.String()
	}
	return e.UserID.String()
}

func NewDeliveryEvent(broadcastID, userID uuid.UUID, kind DeliveryEventType) *MessageDeliveryEvent {
	return &MessageDeliveryEvent{
		EventID:     uuid.New(),
		BroadcastID: broadcastID,
		UserID:      userID,
		EventType:   kind,
		OccurredAt:  time.Now().UTC(),
	}
}

// NewGroupDeliveryEvent builds a read-side fan-out event carrying the target
// spec for resolution at consume time.
func NewGroupDeliveryEvent(broadcastID uuid.UUID, target TargetSpec, kind DeliveryEventType) *MessageDeliveryEvent {
	spec := target
	return &MessageDeliveryEvent{
		EventID:     uuid.New(),
		BroadcastID: broadcastID,
		EventType:   kind,
		Target:      &spec,
		OccurredAt:  time.Now().UTC(),
	}
}
