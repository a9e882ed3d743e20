/*
Package registry keeps the per-process view of open client streams.

Every user with at least one open stream on this pod is represented by an
isolated Cell that owns a bounded mailbox and all of the user's concurrent
sessions (browser tabs, devices). The mailbox decouples the dispatching
side (worker, orchestrator callbacks) from individual stream latency: a slow
consumer saturates its own cell, never the dispatcher. Frames are marshaled
into the wire format once per user group via Eventer's byte cache.
*/
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/broadcast-delivery-service/internal/domain/event"
)

// Celler is the internal API of a user-specific delivery unit.
type Celler interface {
	Push(ev event.Eventer) bool
	Attach(conn Connector)
	Detach(connID uuid.UUID) bool
	IsEmpty() bool
	SessionCount() int
	IsIdle(timeout time.Duration) bool
	Stop()
}

// Cell fans one user's frames out to all of that user's open streams.
type Cell struct {
	userID uuid.UUID

	// mailbox absorbs bursts so slow consumers cannot stall the dispatcher.
	mailbox chan event.Eventer

	// sessions multiplexes one event to every device of the user.
	sessions map[uuid.UUID]Connector

	// mu guards sessions; delivery reads outnumber attach/detach writes.
	mu sync.RWMutex

	doneCh   chan struct{}
	stopOnce sync.Once

	lastActivityAt time.Time
}

func NewCell(userID uuid.UUID, bufferSize int) *Cell {
	c := &Cell{
		userID:         userID,
		mailbox:        make(chan event.Eventer, bufferSize),
		sessions:       make(map[uuid.UUID]Connector),
		doneCh:         make(chan struct{}),
		lastActivityAt: time.Now(),
	}
	go c.loop()
	return c
}

// IsIdle reports whether the user has no sessions and no recent traffic.
func (c *Cell) IsIdle(timeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions) == 0 && time.Since(c.lastActivityAt) > timeout
}

func (c *Cell) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions) == 0
}

func (c *Cell) SessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

func (c *Cell) touch() {
	c.mu.Lock()
	c.lastActivityAt = time.Now()
	c.mu.Unlock()
}

func (c *Cell) Push(ev event.Eventer) bool {
	c.touch()
	select {
	case c.mailbox <- ev:
		return true
	default:
		return false
	}
}

func (c *Cell) Attach(conn Connector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivityAt = time.Now()
	c.sessions[conn.GetID()] = conn
}

// Detach removes one session and reports whether the cell became empty.
func (c *Cell) Detach(connID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, connID)
	c.lastActivityAt = time.Now()
	return len(c.sessions) == 0
}

func (c *Cell) loop() {
	for {
		select {
		case <-c.doneCh:
			return
		case ev := <-c.mailbox:
			c.deliver(ev)
		}
	}
}

func (c *Cell) deliver(ev event.Eventer) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, conn := range c.sessions {
		conn.Send(ev, 500*time.Millisecond)
	}
}

func (c *Cell) Stop() {
	c.stopOnce.Do(func() {
		close(c.doneCh)
	})
}
