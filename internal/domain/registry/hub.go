package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/broadcast-delivery-service/internal/domain/event"
)

// Hubber is the gateway for per-process stream management and frame routing.
type Hubber interface {
	Broadcast(ev event.Eventer) bool
	BroadcastAll(ev event.Eventer)
	Register(conn Connector)
	Unregister(userID, connID uuid.UUID)
	IsConnected(userID uuid.UUID) bool
	ConnectedUsers() []uuid.UUID
	Stats() Stats
	Shutdown()
}

// Stats is the snapshot reported by the user stats endpoint.
type Stats struct {
	TotalUsers       int           `json:"totalUsers"`
	TotalConnections int           `json:"totalConnections"`
	Uptime           time.Duration `json:"uptime"`
}

type hubConfig struct {
	evictionInterval time.Duration
	idleTimeout      time.Duration
	mailboxSize      int
}

// Hub routes frames to per-user cells. Lookups are lock-free via sync.Map;
// each cell owns its own fine-grained lock.
type Hub struct {
	cells     sync.Map // uuid.UUID -> Celler
	config    hubConfig
	startedAt time.Time
	doneCh    chan struct{}
	stopOnce  sync.Once
	draining  atomic.Bool
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		config: hubConfig{
			evictionInterval: 15 * time.Minute,
			idleTimeout:      30 * time.Minute,
			mailboxSize:      2048,
		},
		startedAt: time.Now(),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.janitor()
	return h
}

func (h *Hub) IsConnected(userID uuid.UUID) bool {
	val, ok := h.cells.Load(userID)
	if !ok {
		return false
	}
	return !val.(Celler).IsEmpty()
}

// ConnectedUsers snapshots the users with at least one open stream on this pod.
func (h *Hub) ConnectedUsers() []uuid.UUID {
	var out []uuid.UUID
	h.cells.Range(func(key, val any) bool {
		if !val.(Celler).IsEmpty() {
			out = append(out, key.(uuid.UUID))
		}
		return true
	})
	return out
}

// Broadcast routes a frame to the target user's cell. Returns false on a
// local miss or mailbox overflow; callers fall back to pending events.
func (h *Hub) Broadcast(ev event.Eventer) bool {
	if val, ok := h.cells.Load(ev.GetUserID()); ok {
		return val.(Celler).Push(ev)
	}
	return false
}

// BroadcastAll pushes one frame to every cell, used for drain notices.
func (h *Hub) BroadcastAll(ev event.Eventer) {
	h.cells.Range(func(_, val any) bool {
		val.(Celler).Push(ev)
		return true
	})
}

// Register attaches a new stream, lazily creating the user's cell.
func (h *Hub) Register(conn Connector) {
	if h.draining.Load() {
		conn.Close()
		return
	}
	uID := conn.GetUserID()
	val, _ := h.cells.LoadOrStore(uID, NewCell(uID, h.config.mailboxSize))
	val.(Celler).Attach(conn)
}

// Unregister detaches one stream and reclaims the cell when it was the last.
func (h *Hub) Unregister(userID, connID uuid.UUID) {
	if val, ok := h.cells.Load(userID); ok {
		cell := val.(Celler)
		if cell.Detach(connID) && h.cells.CompareAndDelete(userID, val) {
			cell.Stop()
		}
	}
}

func (h *Hub) Stats() Stats {
	s := Stats{Uptime: time.Since(h.startedAt)}
	h.cells.Range(func(_, val any) bool {
		s.TotalUsers++
		s.TotalConnections += val.(Celler).SessionCount()
		return true
	})
	return s
}

// Shutdown drains the hub: a SERVER_SHUTDOWN frame goes to every open stream,
// then all cells stop. Safe to call more than once.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		h.draining.Store(true)
		close(h.doneCh)

		h.cells.Range(func(key, val any) bool {
			val.(Celler).Push(event.NewFrame(key.(uuid.UUID), event.ServerShutdown, event.PriorityHigh,
				&event.ShutdownPayload{Reason: "server_shutdown"}))
			return true
		})
		// Let mailboxes flush the final frame before teardown.
		time.Sleep(100 * time.Millisecond)

		h.cells.Range(func(key, val any) bool {
			val.(Celler).Stop()
			h.cells.Delete(key)
			return true
		})
	})
}

// janitor periodically reclaims cells whose users went quiet without a clean
// unregister.
func (h *Hub) janitor() {
	ticker := time.NewTicker(h.config.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.doneCh:
			return
		case <-ticker.C:
			h.cells.Range(func(key, val any) bool {
				cell := val.(Celler)
				if cell.IsIdle(h.config.idleTimeout) && h.cells.CompareAndDelete(key, val) {
					cell.Stop()
				}
				return true
			})
		}
	}
}
