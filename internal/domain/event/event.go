package event

import "github.com/google/uuid"

// Kind names the frame on the wire. The values double as SSE event names.
type Kind string

const (
	Connected              Kind = "CONNECTED"
	Message                Kind = "MESSAGE"
	ReadReceipt            Kind = "READ_RECEIPT"
	MessageRemoved         Kind = "MESSAGE_REMOVED"
	Heartbeat              Kind = "HEARTBEAT"
	ConnectionLimitReached Kind = "CONNECTION_LIMIT_REACHED"
	ServerShutdown         Kind = "SERVER_SHUTDOWN"
)

type Priority int32

const (
	PriorityLow    Priority = 10
	PriorityNormal Priority = 20
	PriorityHigh   Priority = 30
)

// Eventer is the contract for all frames flowing through the Hub to streams.
type Eventer interface {
	GetID() string
	GetKind() Kind
	GetUserID() uuid.UUID
	GetPriority() Priority
	GetOccurredAt() int64
	GetPayload() any
	// GetCached and SetCached let transports marshal a frame exactly once
	// per user group and reuse the bytes across sessions.
	GetCached() []byte
	SetCached([]byte)
}
