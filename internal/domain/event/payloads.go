package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
)

// ConnectedPayload is sent exactly once after a stream opens. It carries the
// connection id the client must reuse on reconnect.
type ConnectedPayload struct {
	Ok           bool   `json:"ok"`
	ConnectionID string `json:"connectionId"`
}

// MessagePayload carries the broadcast content for MESSAGE frames.
type MessagePayload struct {
	BroadcastID uuid.UUID               `json:"broadcastId"`
	Sender      string                  `json:"sender"`
	Content     string                  `json:"content"`
	Priority    model.BroadcastPriority `json:"priority"`
	Category    string                  `json:"category"`
	CreatedAt   time.Time               `json:"createdAt"`
}

// MessagePayloadOf projects the stream-visible subset of a broadcast.
func MessagePayloadOf(b *model.Broadcast) *MessagePayload {
	return &MessagePayload{
		BroadcastID: b.ID,
		Sender:      b.Sender,
		Content:     b.Content,
		Priority:    b.Priority,
		Category:    b.Category,
		CreatedAt:   b.CreatedAt,
	}
}

// ReceiptPayload backs READ_RECEIPT and MESSAGE_REMOVED frames.
type ReceiptPayload struct {
	BroadcastID uuid.UUID `json:"broadcastId"`
}

// ShutdownPayload tells clients the pod is draining; they should reconnect
// elsewhere with the same connection id.
type ShutdownPayload struct {
	Reason string `json:"reason"`
}

// LimitPayload backs CONNECTION_LIMIT_REACHED before the stream closes.
type LimitPayload struct {
	MaxConnections int `json:"maxConnections"`
}
