package model

import (
	"time"

	"github.com/google/uuid"
)

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "PENDING"
	DeliveryDelivered  DeliveryStatus = "DELIVERED"
	DeliveryFailed     DeliveryStatus = "FAILED"
	DeliverySuperseded DeliveryStatus = "SUPERSEDED"
)

type ReadStatus string

const (
	ReadUnread ReadStatus = "UNREAD"
	ReadRead   ReadStatus = "READ"
)

// UserBroadcast is the per-user delivery row. (BroadcastID, UserID) is unique
// in the durable store; deliveryStatus moves monotonically except for the
// PENDING -> SUPERSEDED flip on cancel/expire and the explicit DLT redrive.
type UserBroadcast struct {
	ID             int64          `json:"id"`
	BroadcastID    uuid.UUID      `json:"broadcastId"`
	UserID         uuid.UUID      `json:"userId"`
	DeliveryStatus DeliveryStatus `json:"deliveryStatus"`
	ReadStatus     ReadStatus     `json:"readStatus"`
	DeliveredAt    *time.Time     `json:"deliveredAt,omitempty"`
	ReadAt         *time.Time     `json:"readAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// BroadcastStatistics carries per-broadcast delivery counters, upserted
// atomically with the delivery transitions they count.
type BroadcastStatistics struct {
	BroadcastID    uuid.UUID `json:"broadcastId"`
	TotalTargeted  int64     `json:"totalTargeted"`
	TotalDelivered int64     `json:"totalDelivered"`
	TotalRead      int64     `json:"totalRead"`
	TotalFailed    int64     `json:"totalFailed"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
