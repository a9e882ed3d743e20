package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/broadcast-delivery-service/internal/domain/event"
)

// Interface guard
var _ Connector = (*connect)(nil)

// Connector is the stream handle seen by the Hub and transport handlers.
// The concrete type stays unexported to force interface usage.
type Connector interface {
	GetID() uuid.UUID
	GetUserID() uuid.UUID
	Send(ev event.Eventer, timeout time.Duration) bool
	Recv() <-chan event.Eventer
	Dropped() uint64
	Close()
}

type connect struct {
	id        uuid.UUID
	userID    uuid.UUID
	createdAt time.Time

	ctx      context.Context
	cancelFn context.CancelFunc

	sendCh    chan event.Eventer
	closeOnce sync.Once

	lastActivityAt int64  // atomic
	droppedCount   uint64 // atomic
}

// NewConnector builds a stream handle. When connID is uuid.Nil a fresh id is
// minted; reconnecting clients pass their previous id back in.
func NewConnector(ctx context.Context, userID, connID uuid.UUID, bufferSize int) Connector {
	if connID == uuid.Nil {
		connID = uuid.New()
	}
	childCtx, cancel := context.WithCancel(ctx)
	return &connect{
		id:             connID,
		userID:         userID,
		createdAt:      time.Now(),
		ctx:            childCtx,
		cancelFn:       cancel,
		sendCh:         make(chan event.Eventer, bufferSize),
		lastActivityAt: time.Now().UnixNano(),
	}
}

func (c *connect) GetID() uuid.UUID     { return c.id }
func (c *connect) GetUserID() uuid.UUID { return c.userID }
func (c *connect) Dropped() uint64      { return atomic.LoadUint64(&c.droppedCount) }

// Send enqueues a frame, waiting up to timeout for buffer space so transient
// jitter does not drop frames. A buffer still saturated after the window
// falls through to priority-based shedding.
func (c *connect) Send(ev event.Eventer, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	case <-c.ctx.Done():
		return false
	case c.sendCh <- ev:
		atomic.StoreInt64(&c.lastActivityAt, time.Now().UnixNano())
		return true
	case <-ctx.Done():
		return c.handleBackpressure(ev, timeout)
	}
}

// handleBackpressure sheds low-priority frames to keep room for high-priority
// ones when the buffer stays full.
func (c *connect) handleBackpressure(ev event.Eventer, timeout time.Duration) bool {
	if ev.GetPriority() <= event.PriorityLow {
		atomic.AddUint64(&c.droppedCount, 1)
		return false
	}

	select {
	case oldEv := <-c.sendCh:
		if oldEv.GetPriority() < ev.GetPriority() {
			c.sendCh <- ev
			return true
		}
		select {
		case c.sendCh <- oldEv:
		default:
		}
	case <-time.After(timeout):
	}

	atomic.AddUint64(&c.droppedCount, 1)
	return false
}

func (c *connect) Recv() <-chan event.Eventer { return c.sendCh }

// Close terminates the session. Idempotent: the Hub (shutdown), the Cell
// (eviction) and the HTTP handler (defer) may all race to call it.
func (c *connect) Close() {
	c.closeOnce.Do(func() {
		c.cancelFn()
		close(c.sendCh)
	})
}
