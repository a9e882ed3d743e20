package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/event"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/domain/registry"
	"github.com/webitel/broadcast-delivery-service/internal/storage/grid"
)

type fakeContent struct {
	broadcasts map[uuid.UUID]*model.Broadcast
}

func (f *fakeContent) Content(_ context.Context, id uuid.UUID) (*model.Broadcast, error) {
	b, ok := f.broadcasts[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "broadcast %s not found", id)
	}
	return b, nil
}

func (f *fakeContent) Prime(context.Context, *model.Broadcast) {}
func (f *fakeContent) Invalidate(context.Context, uuid.UUID)   {}

type deliveredKey struct{ broadcastID, userID uuid.UUID }

type fakeDelivery struct {
	mu        sync.Mutex
	delivered map[deliveredKey]int
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{delivered: make(map[deliveredKey]int)}
}

func (f *fakeDelivery) MarkDelivered(_ context.Context, broadcastID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered[deliveredKey{broadcastID, userID}]++
	return true, nil
}

func (f *fakeDelivery) count(broadcastID, userID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivered[deliveredKey{broadcastID, userID}]
}

func (f *fakeDelivery) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func (f *fakeDelivery) MarkRead(context.Context, uuid.UUID, uuid.UUID) error   { return nil }
func (f *fakeDelivery) MarkFailed(context.Context, uuid.UUID, uuid.UUID) error { return nil }

type fixture struct {
	grid     *grid.MemoryGrid
	hub      *registry.Hub
	content  *fakeContent
	delivery *fakeDelivery
	worker   *Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		grid:     grid.NewMemoryGrid(time.Hour),
		hub:      registry.NewHub(),
		content:  &fakeContent{broadcasts: make(map[uuid.UUID]*model.Broadcast)},
		delivery: newFakeDelivery(),
	}
	t.Cleanup(f.hub.Shutdown)
	f.worker = New(f.grid, f.hub, f.content, f.delivery,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *fixture) connect(t *testing.T, userID uuid.UUID) registry.Connector {
	t.Helper()
	conn := registry.NewConnector(context.Background(), userID, uuid.Nil, 16)
	f.hub.Register(conn)
	return conn
}

func (f *fixture) addBroadcast(b *model.Broadcast) {
	f.content.broadcasts[b.ID] = b
}

func recvFrame(t *testing.T, conn registry.Connector) event.Eventer {
	t.Helper()
	select {
	case ev, ok := <-conn.Recv():
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no frame within deadline")
		return nil
	}
}

func TestWorkerDeliversMessage(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	conn := f.connect(t, userID)

	b := &model.Broadcast{
		ID:       uuid.New(),
		Sender:   "ops",
		Content:  "release tonight",
		Status:   model.StatusActive,
		Priority: model.PriorityNormalBroadcast,
	}
	f.addBroadcast(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = f.worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		err := f.grid.PublishNotify(ctx, grid.Notification{
			Kind: grid.NotifyMessage, UserID: userID, BroadcastID: b.ID,
		})
		return err == nil && f.delivery.total() > 0
	}, 2*time.Second, 20*time.Millisecond)

	ev := recvFrame(t, conn)
	assert.Equal(t, event.Message, ev.GetKind())
	payload, ok := ev.GetPayload().(*event.MessagePayload)
	require.True(t, ok)
	assert.Equal(t, "release tonight", payload.Content)

	// The publish loop may have fired more than once before the first
	// observation; delivery recording is idempotent downstream.
	assert.GreaterOrEqual(t, f.delivery.count(b.ID, userID), 1)

	cancel()
	<-done
}

func TestWorkerIgnoresUsersOnOtherPods(t *testing.T) {
	f := newFixture(t)
	local, remote := uuid.New(), uuid.New()
	f.connect(t, local)

	b := &model.Broadcast{ID: uuid.New(), Status: model.StatusActive}
	f.addBroadcast(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.worker.Run(ctx) }()

	// Notifications for users without local streams are skipped entirely.
	require.NoError(t, f.grid.PublishNotify(ctx, grid.Notification{
		Kind: grid.NotifyMessage, UserID: remote, BroadcastID: b.ID,
	}))

	assert.Never(t, func() bool {
		return f.delivery.total() > 0
	}, 300*time.Millisecond, 50*time.Millisecond)
}

func TestWorkerSkipsTerminalBroadcast(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	f.connect(t, userID)

	b := &model.Broadcast{ID: uuid.New(), Status: model.StatusCancelled}
	f.addBroadcast(b)

	require.NoError(t, f.worker.deliverMessage(context.Background(), userID, b.ID))
	assert.Zero(t, f.delivery.total())
}

func TestWorkerFireAndForgetSkipsDeliveryRecord(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	conn := f.connect(t, userID)

	b := &model.Broadcast{ID: uuid.New(), Status: model.StatusActive, FireAndForget: true}
	f.addBroadcast(b)

	require.NoError(t, f.worker.deliverMessage(context.Background(), userID, b.ID))

	ev := recvFrame(t, conn)
	assert.Equal(t, event.Message, ev.GetKind())
	assert.Zero(t, f.delivery.total())
}

func TestWorkerMirrorsReadReceipt(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	conn := f.connect(t, userID)
	broadcastID := uuid.New()

	require.NoError(t, f.worker.handle(context.Background(), grid.Notification{
		Kind: grid.NotifyReadReceipt, UserID: userID, BroadcastID: broadcastID,
	}))

	ev := recvFrame(t, conn)
	assert.Equal(t, event.ReadReceipt, ev.GetKind())
	payload, ok := ev.GetPayload().(*event.ReceiptPayload)
	require.True(t, ok)
	assert.Equal(t, broadcastID, payload.BroadcastID)
}

func TestWorkerPushesRemovalFrame(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	conn := f.connect(t, userID)

	require.NoError(t, f.worker.handle(context.Background(), grid.Notification{
		Kind: grid.NotifyMessageRemoved, UserID: userID, BroadcastID: uuid.New(),
	}))

	assert.Equal(t, event.MessageRemoved, recvFrame(t, conn).GetKind())
}

func TestReplayPendingDeliversAndRemoves(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	conn := f.connect(t, userID)
	ctx := context.Background()

	created := &model.Broadcast{ID: uuid.New(), Status: model.StatusActive, Content: "while you were away"}
	f.addBroadcast(created)
	cancelled := uuid.New()

	require.NoError(t, f.grid.EnqueuePending(ctx, userID,
		model.NewDeliveryEvent(created.ID, userID, model.EventCreated)))
	require.NoError(t, f.grid.EnqueuePending(ctx, userID,
		model.NewDeliveryEvent(cancelled, userID, model.EventCancelled)))

	require.NoError(t, f.worker.ReplayPending(ctx, userID))

	first := recvFrame(t, conn)
	assert.Equal(t, event.Message, first.GetKind())
	second := recvFrame(t, conn)
	assert.Equal(t, event.MessageRemoved, second.GetKind())

	assert.Equal(t, 1, f.delivery.count(created.ID, userID))

	// The queue drains exactly once.
	require.NoError(t, f.worker.ReplayPending(ctx, userID))
	assert.Equal(t, 1, f.delivery.count(created.ID, userID))
}

func TestFramePriority(t *testing.T) {
	assert.Equal(t, event.PriorityHigh, framePriority(model.PriorityHighBroadcast))
	assert.Equal(t, event.PriorityHigh, framePriority(model.PriorityUrgentBroadcast))
	assert.Equal(t, event.PriorityLow, framePriority(model.PriorityLowBroadcast))
	assert.Equal(t, event.PriorityNormal, framePriority(model.PriorityNormalBroadcast))
	assert.Equal(t, event.PriorityNormal, framePriority(""))
}
