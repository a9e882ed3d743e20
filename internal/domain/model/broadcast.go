package model

import (
	"time"

	"github.com/google/uuid"
)

// BroadcastStatus is the lifecycle state of a broadcast. Values are stored
// verbatim in the durable store and returned over the admin API.
type BroadcastStatus string

const (
	StatusPreparing BroadcastStatus = "PREPARING"
	StatusReady     BroadcastStatus = "READY"
	StatusScheduled BroadcastStatus = "SCHEDULED"
	StatusActive    BroadcastStatus = "ACTIVE"
	StatusExpired   BroadcastStatus = "EXPIRED"
	StatusCancelled BroadcastStatus = "CANCELLED"
	StatusFailed    BroadcastStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are legal from s.
func (s BroadcastStatus) IsTerminal() bool {
	switch s {
	case StatusExpired, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// legalTransitions encodes the lifecycle state machine. The empty-string key
// covers creation (no prior state).
var legalTransitions = map[BroadcastStatus][]BroadcastStatus{
	"":              {StatusActive, StatusScheduled, StatusPreparing},
	StatusPreparing: {StatusReady, StatusFailed, StatusCancelled},
	StatusReady:     {StatusActive, StatusFailed, StatusCancelled},
	StatusScheduled: {StatusActive, StatusPreparing, StatusCancelled},
	StatusActive:    {StatusExpired, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to BroadcastStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type BroadcastPriority string

const (
	PriorityLowBroadcast    BroadcastPriority = "LOW"
	PriorityNormalBroadcast BroadcastPriority = "NORMAL"
	PriorityHighBroadcast   BroadcastPriority = "HIGH"
	PriorityUrgentBroadcast BroadcastPriority = "URGENT"
)

// Broadcast is the core entity: one administrator-authored message plus the
// audience it targets and its lifecycle state.
type Broadcast struct {
	ID            uuid.UUID         `json:"id"`
	Sender        string            `json:"sender"`
	Content       string            `json:"content"`
	Priority      BroadcastPriority `json:"priority"`
	Category      string            `json:"category"`
	Target        TargetSpec        `json:"target"`
	ScheduledAt   *time.Time        `json:"scheduledAt,omitempty"`
	ExpiresAt     *time.Time        `json:"expiresAt,omitempty"`
	FireAndForget bool              `json:"fireAndForget"`
	Status        BroadcastStatus   `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// IsDue reports whether a scheduled broadcast should be promoted at now.
func (b *Broadcast) IsDue(now time.Time) bool {
	return b.Status == StatusScheduled && b.ScheduledAt != nil && !b.ScheduledAt.After(now)
}

// IsExpiredAt reports whether an active broadcast has passed its deadline.
func (b *Broadcast) IsExpiredAt(now time.Time) bool {
	return b.Status == StatusActive && b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}
