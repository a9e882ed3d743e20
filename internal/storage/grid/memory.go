package grid

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
)

// Interface guard
var _ Grid = (*MemoryGrid)(nil)

// MemoryGrid is the single-node backend, also used by tests. Fault injection
// happens through FailWith, which makes the next calls return the given
// error, mimicking a grid outage.
type MemoryGrid struct {
	mu sync.RWMutex

	conns    map[uuid.UUID]model.ConnectionSet
	versions map[uuid.UUID]int64
	beats    map[uuid.UUID]model.Heartbeat
	inboxes  map[uuid.UUID][]model.InboxEntry
	content  map[uuid.UUID]*model.Broadcast
	pending  map[uuid.UUID][]*model.MessageDeliveryEvent

	pendingTTL time.Duration
	pendingAt  map[uuid.UUID]time.Time

	subs   map[int]chan Notification
	nextID int

	failMu    sync.Mutex
	failErr   error
	failCount int
}

func NewMemoryGrid(pendingTTL time.Duration) *MemoryGrid {
	return &MemoryGrid{
		conns:      make(map[uuid.UUID]model.ConnectionSet),
		versions:   make(map[uuid.UUID]int64),
		beats:      make(map[uuid.UUID]model.Heartbeat),
		inboxes:    make(map[uuid.UUID][]model.InboxEntry),
		content:    make(map[uuid.UUID]*model.Broadcast),
		pending:    make(map[uuid.UUID][]*model.MessageDeliveryEvent),
		pendingTTL: pendingTTL,
		pendingAt:  make(map[uuid.UUID]time.Time),
		subs:       make(map[int]chan Notification),
	}
}

// FailWith arms fault injection: the next n calls fail with err.
func (g *MemoryGrid) FailWith(err error, n int) {
	g.failMu.Lock()
	defer g.failMu.Unlock()
	g.failErr = err
	g.failCount = n
}

func (g *MemoryGrid) checkFail() error {
	g.failMu.Lock()
	defer g.failMu.Unlock()
	if g.failCount > 0 {
		g.failCount--
		return g.failErr
	}
	return nil
}

func (g *MemoryGrid) GetConnections(_ context.Context, userID uuid.UUID) (model.ConnectionSet, int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.checkFail(); err != nil {
		return nil, 0, err
	}
	set, ok := g.conns[userID]
	if !ok {
		return model.ConnectionSet{}, 0, nil
	}
	return set.Clone(), g.versions[userID], nil
}

func (g *MemoryGrid) PutConnections(_ context.Context, userID uuid.UUID, set model.ConnectionSet, version int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkFail(); err != nil {
		return err
	}
	if g.versions[userID] != version {
		return apperr.Newf(apperr.KindConflictCAS, "connection map of %s moved from v%d to v%d",
			userID, version, g.versions[userID])
	}
	if len(set) == 0 {
		delete(g.conns, userID)
		delete(g.versions, userID)
		return nil
	}
	g.conns[userID] = set.Clone()
	g.versions[userID] = version + 1
	return nil
}

func (g *MemoryGrid) IsOnline(_ context.Context, userID uuid.UUID) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.checkFail(); err != nil {
		return false, err
	}
	return len(g.conns[userID]) > 0, nil
}

func (g *MemoryGrid) OnlineUsers(_ context.Context) ([]uuid.UUID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.checkFail(); err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(g.conns))
	for u := range g.conns {
		out = append(out, u)
	}
	return out, nil
}

func (g *MemoryGrid) ConnectionCounts(_ context.Context) (int, int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	conns := 0
	for _, set := range g.conns {
		conns += len(set)
	}
	return len(g.conns), conns, nil
}

func (g *MemoryGrid) PutHeartbeat(_ context.Context, connID uuid.UUID, hb model.Heartbeat) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkFail(); err != nil {
		return err
	}
	g.beats[connID] = hb
	return nil
}

func (g *MemoryGrid) GetHeartbeat(_ context.Context, connID uuid.UUID) (model.Heartbeat, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	hb, ok := g.beats[connID]
	return hb, ok, nil
}

func (g *MemoryGrid) DeleteHeartbeat(_ context.Context, connID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.beats, connID)
	return nil
}

func (g *MemoryGrid) Heartbeats(_ context.Context) (map[uuid.UUID]model.Heartbeat, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[uuid.UUID]model.Heartbeat, len(g.beats))
	for k, v := range g.beats {
		out[k] = v
	}
	return out, nil
}

func (g *MemoryGrid) PushInbox(_ context.Context, userID uuid.UUID, entry model.InboxEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkFail(); err != nil {
		return err
	}
	g.inboxes[userID] = append([]model.InboxEntry{entry}, g.inboxes[userID]...)
	return nil
}

func (g *MemoryGrid) ListInbox(_ context.Context, userID uuid.UUID, limit int) ([]model.InboxEntry, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entries := g.inboxes[userID]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]model.InboxEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (g *MemoryGrid) RemoveInbox(_ context.Context, userID, broadcastID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	kept := g.inboxes[userID][:0]
	for _, e := range g.inboxes[userID] {
		if e.BroadcastID != broadcastID {
			kept = append(kept, e)
		}
	}
	g.inboxes[userID] = kept
	return nil
}

func (g *MemoryGrid) PutContent(_ context.Context, b *model.Broadcast) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkFail(); err != nil {
		return err
	}
	clone := *b
	g.content[b.ID] = &clone
	return nil
}

func (g *MemoryGrid) GetContent(_ context.Context, id uuid.UUID) (*model.Broadcast, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.checkFail(); err != nil {
		return nil, false, err
	}
	b, ok := g.content[id]
	if !ok {
		return nil, false, nil
	}
	clone := *b
	return &clone, true, nil
}

func (g *MemoryGrid) DeleteContent(_ context.Context, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.content, id)
	return nil
}

func (g *MemoryGrid) EnqueuePending(_ context.Context, userID uuid.UUID, ev *model.MessageDeliveryEvent) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkFail(); err != nil {
		return err
	}
	g.pending[userID] = append(g.pending[userID], ev)
	g.pendingAt[userID] = time.Now()
	return nil
}

func (g *MemoryGrid) DrainPending(_ context.Context, userID uuid.UUID) ([]*model.MessageDeliveryEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkFail(); err != nil {
		return nil, err
	}
	evs := g.pending[userID]
	delete(g.pending, userID)
	if at, ok := g.pendingAt[userID]; ok {
		delete(g.pendingAt, userID)
		if g.pendingTTL > 0 && time.Since(at) > g.pendingTTL {
			return nil, nil
		}
	}
	return evs, nil
}

func (g *MemoryGrid) PublishNotify(_ context.Context, n Notification) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.checkFail(); err != nil {
		return err
	}
	for _, ch := range g.subs {
		select {
		case ch <- n:
		default:
		}
	}
	return nil
}

func (g *MemoryGrid) SubscribeNotify(ctx context.Context) (<-chan Notification, error) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	ch := make(chan Notification, 256)
	g.subs[id] = ch
	g.mu.Unlock()

	go func() {
		<-ctx.Done()
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (g *MemoryGrid) Close() error { return nil }
