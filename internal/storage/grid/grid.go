// Package grid abstracts the distributed in-memory grid: connection registry,
// heartbeats, per-user inboxes, hot broadcast content and pending events.
//
// Backends are chosen once at process start (redis for multi-pod clusters,
// memory for single-node and tests); there is no runtime polymorphism on hot
// paths beyond the single interface dispatch.
package grid

import (
	"context"

	"github.com/google/uuid"

	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
)

// NotificationKind names the grid events observed by workers.
type NotificationKind string

const (
	NotifyMessage        NotificationKind = "MESSAGE"
	NotifyReadReceipt    NotificationKind = "READ_RECEIPT"
	NotifyMessageRemoved NotificationKind = "MESSAGE_REMOVED"
)

// Notification is the continuous-query substitute: every inbox mutation
// publishes one, and the worker on the pod holding the user's streams reacts.
type Notification struct {
	Kind          NotificationKind `json:"kind"`
	UserID        uuid.UUID        `json:"userId"`
	BroadcastID   uuid.UUID        `json:"broadcastId"`
	DeliveryRowID int64            `json:"deliveryRowId,omitempty"`
}

// Grid is the full backend contract. All keys are cluster-scoped composites;
// a pod restart never strands state.
type Grid interface {
	// Connection registry. The per-user connection map is one grid value
	// under optimistic concurrency: Get returns the current version, Put
	// succeeds only against that version (0 = expect absent) and returns
	// apperr.ErrConflictCAS on interference. An empty set deletes the entry.
	GetConnections(ctx context.Context, userID uuid.UUID) (model.ConnectionSet, int64, error)
	PutConnections(ctx context.Context, userID uuid.UUID, set model.ConnectionSet, version int64) error
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
	OnlineUsers(ctx context.Context) ([]uuid.UUID, error)
	ConnectionCounts(ctx context.Context) (users int, conns int, err error)

	// Heartbeats, keyed by connection id.
	PutHeartbeat(ctx context.Context, connID uuid.UUID, hb model.Heartbeat) error
	GetHeartbeat(ctx context.Context, connID uuid.UUID) (model.Heartbeat, bool, error)
	DeleteHeartbeat(ctx context.Context, connID uuid.UUID) error
	Heartbeats(ctx context.Context) (map[uuid.UUID]model.Heartbeat, error)

	// Per-user inbox, ordered newest first.
	PushInbox(ctx context.Context, userID uuid.UUID, entry model.InboxEntry) error
	ListInbox(ctx context.Context, userID uuid.UUID, limit int) ([]model.InboxEntry, error)
	RemoveInbox(ctx context.Context, userID, broadcastID uuid.UUID) error

	// Hot broadcast content cache.
	PutContent(ctx context.Context, b *model.Broadcast) error
	GetContent(ctx context.Context, id uuid.UUID) (*model.Broadcast, bool, error)
	DeleteContent(ctx context.Context, id uuid.UUID) error

	// Pending events for users offline at push time, TTL-bounded.
	EnqueuePending(ctx context.Context, userID uuid.UUID, ev *model.MessageDeliveryEvent) error
	DrainPending(ctx context.Context, userID uuid.UUID) ([]*model.MessageDeliveryEvent, error)

	// Notification bus.
	PublishNotify(ctx context.Context, n Notification) error
	SubscribeNotify(ctx context.Context) (<-chan Notification, error)

	Close() error
}
