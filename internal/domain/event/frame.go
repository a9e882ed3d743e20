package event

import (
	"time"

	"github.com/google/uuid"
)

var _ Eventer = (*Frame)(nil)

// Frame is the single concrete Eventer. Payload shapes per kind live in
// payloads.go; the Hub treats every frame uniformly.
type Frame struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	UserID     uuid.UUID `json:"-"`
	Priority   Priority  `json:"-"`
	OccurredAt int64     `json:"occurredAt"`
	Payload    any       `json:"payload,omitempty"`

	cached []byte
}

func NewFrame(userID uuid.UUID, kind Kind, prio Priority, payload any) *Frame {
	return &Frame{
		ID:         uuid.New(),
		Kind:       kind,
		UserID:     userID,
		Priority:   prio,
		OccurredAt: time.Now().UnixMilli(),
		Payload:    payload,
	}
}

func (f *Frame) GetID() string          { return f.ID.String() }
func (f *Frame) GetKind() Kind          { return f.Kind }
func (f *Frame) GetUserID() uuid.UUID   { return f.UserID }
func (f *Frame) GetPriority() Priority  { return f.Priority }
func (f *Frame) GetOccurredAt() int64   { return f.OccurredAt }
func (f *Frame) GetPayload() any        { return f.Payload }
func (f *Frame) GetCached() []byte      { return f.cached }
func (f *Frame) SetCached(data []byte)  { f.cached = data }
