package model

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionInfo is the grid-side metadata for one open stream.
type ConnectionInfo struct {
	PodID          string    `json:"podId"`
	ClusterID      string    `json:"clusterId"`
	ConnectedAt    time.Time `json:"connectedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// ConnectionSet is the per-user connection map stored as one grid value and
// updated with compare-and-set. Keys are connection ids.
type ConnectionSet map[uuid.UUID]ConnectionInfo

// Clone returns a shallow copy safe to mutate before a CAS write.
func (s ConnectionSet) Clone() ConnectionSet {
	out := make(ConnectionSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Heartbeat is the liveness record for one connection. Epoch is unix seconds
// of the last beat; staleness is evaluated monotonically against it.
type Heartbeat struct {
	UserID uuid.UUID `json:"userId"`
	Epoch  int64     `json:"epoch"`
}

func (h Heartbeat) StaleAt(now time.Time, threshold time.Duration) bool {
	return h.Epoch < now.Add(-threshold).Unix()
}

// InboxEntry is one ordered element of a user's grid inbox, observed by the
// worker on the pod holding the user's streams.
type InboxEntry struct {
	DeliveryRowID  int64          `json:"deliveryRowId"`
	BroadcastID    uuid.UUID      `json:"broadcastId"`
	DeliveryStatus DeliveryStatus `json:"deliveryStatus"`
	ReadStatus     ReadStatus     `json:"readStatus"`
	CreatedAt      time.Time      `json:"createdAt"`
}
