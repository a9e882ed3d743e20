package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
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

// The store stays nil in these tests: the paths under test are grid-only.
func newOrchestrator(g grid.Grid, content *fakeContent) *Orchestrator {
	return &Orchestrator{
		grid:     g,
		content:  content,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		pageSize: 100,
	}
}

func TestDecodeEventPoisonsGarbage(t *testing.T) {
	_, err := decodeEvent([]byte("{not json"))
	require.ErrorIs(t, err, apperr.ErrSerializationPoison)
	assert.False(t, apperr.Retryable(err))
}

func TestDecodeEventRoundTrip(t *testing.T) {
	src := model.NewDeliveryEvent(uuid.New(), uuid.New(), model.EventCreated)
	raw, err := json.Marshal(src)
	require.NoError(t, err)

	got, err := decodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, src.BroadcastID, got.BroadcastID)
	assert.Equal(t, src.UserID, got.UserID)
	assert.Equal(t, model.EventCreated, got.EventType)
}

func TestDispatchUnknownEventTypeIsAcknowledged(t *testing.T) {
	o := newOrchestrator(grid.NewMemoryGrid(time.Hour), &fakeContent{})

	ev := model.NewDeliveryEvent(uuid.New(), uuid.New(), "SNOOZED")
	require.NoError(t, o.Dispatch(context.Background(), ev))
}

func TestUserCreatedForMissingBroadcastIsAcknowledged(t *testing.T) {
	g := grid.NewMemoryGrid(time.Hour)
	o := newOrchestrator(g, &fakeContent{broadcasts: map[uuid.UUID]*model.Broadcast{}})

	ev := model.NewDeliveryEvent(uuid.New(), uuid.New(), model.EventCreated)
	require.NoError(t, o.Dispatch(context.Background(), ev))
}

func TestRouteOnlineUserGetsInboxAndNotification(t *testing.T) {
	g := grid.NewMemoryGrid(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	userID := uuid.New()
	b := &model.Broadcast{ID: uuid.New(), Status: model.StatusActive}
	o := newOrchestrator(g, &fakeContent{broadcasts: map[uuid.UUID]*model.Broadcast{b.ID: b}})

	require.NoError(t, g.PutConnections(ctx, userID,
		model.ConnectionSet{uuid.New(): {PodID: "pod-1"}}, 0))
	notifications, err := g.SubscribeNotify(ctx)
	require.NoError(t, err)

	ev := model.NewDeliveryEvent(b.ID, userID, model.EventCreated)
	require.NoError(t, o.Dispatch(ctx, ev))

	inbox, err := g.ListInbox(ctx, userID, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, b.ID, inbox[0].BroadcastID)
	assert.Equal(t, model.DeliveryPending, inbox[0].DeliveryStatus)
	assert.Equal(t, model.ReadUnread, inbox[0].ReadStatus)

	select {
	case n := <-notifications:
		assert.Equal(t, grid.NotifyMessage, n.Kind)
		assert.Equal(t, userID, n.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not received")
	}
}

func TestRouteOfflineUserGetsPendingEvent(t *testing.T) {
	g := grid.NewMemoryGrid(time.Hour)
	ctx := context.Background()

	userID := uuid.New()
	b := &model.Broadcast{ID: uuid.New(), Status: model.StatusActive}
	o := newOrchestrator(g, &fakeContent{broadcasts: map[uuid.UUID]*model.Broadcast{b.ID: b}})

	ev := model.NewDeliveryEvent(b.ID, userID, model.EventCreated)
	require.NoError(t, o.Dispatch(ctx, ev))

	pending, err := g.DrainPending(ctx, userID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].BroadcastID)

	inbox, err := g.ListInbox(ctx, userID, 0)
	require.NoError(t, err)
	assert.Empty(t, inbox)
}

func TestRouteOfflineFireAndForgetIsDropped(t *testing.T) {
	g := grid.NewMemoryGrid(time.Hour)
	ctx := context.Background()

	userID := uuid.New()
	b := &model.Broadcast{ID: uuid.New(), Status: model.StatusActive, FireAndForget: true}
	o := newOrchestrator(g, &fakeContent{broadcasts: map[uuid.UUID]*model.Broadcast{b.ID: b}})

	ev := model.NewDeliveryEvent(b.ID, userID, model.EventCreated)
	ev.FireAndForget = true
	require.NoError(t, o.Dispatch(ctx, ev))

	pending, err := g.DrainPending(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGroupCreatedWithoutTargetIsPoison(t *testing.T) {
	g := grid.NewMemoryGrid(time.Hour)
	b := &model.Broadcast{ID: uuid.New(), Status: model.StatusActive}
	o := newOrchestrator(g, &fakeContent{broadcasts: map[uuid.UUID]*model.Broadcast{b.ID: b}})

	ev := model.NewGroupDeliveryEvent(b.ID, model.TargetSpec{Type: model.TargetAll}, model.EventCreated)
	ev.Target = nil
	err := o.Dispatch(context.Background(), ev)
	require.ErrorIs(t, err, apperr.ErrSerializationPoison)
}

func TestGroupCreatedForTerminalBroadcastIsSkipped(t *testing.T) {
	g := grid.NewMemoryGrid(time.Hour)
	b := &model.Broadcast{ID: uuid.New(), Status: model.StatusCancelled}
	o := newOrchestrator(g, &fakeContent{broadcasts: map[uuid.UUID]*model.Broadcast{b.ID: b}})

	ev := model.NewGroupDeliveryEvent(b.ID, model.TargetSpec{Type: model.TargetAll}, model.EventCreated)
	require.NoError(t, o.Dispatch(context.Background(), ev))
}

func TestReadEventMirrorsReceipt(t *testing.T) {
	g := grid.NewMemoryGrid(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := newOrchestrator(g, &fakeContent{})

	notifications, err := g.SubscribeNotify(ctx)
	require.NoError(t, err)

	ev := model.NewDeliveryEvent(uuid.New(), uuid.New(), model.EventRead)
	require.NoError(t, o.Dispatch(ctx, ev))

	select {
	case n := <-notifications:
		assert.Equal(t, grid.NotifyReadReceipt, n.Kind)
		assert.Equal(t, ev.UserID, n.UserID)
		assert.Equal(t, ev.BroadcastID, n.BroadcastID)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not received")
	}
}

func TestRemovalEventDropsInboxAndNotifies(t *testing.T) {
	g := grid.NewMemoryGrid(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := newOrchestrator(g, &fakeContent{})

	userID, broadcastID := uuid.New(), uuid.New()
	require.NoError(t, g.PushInbox(ctx, userID, model.InboxEntry{BroadcastID: broadcastID}))
	require.NoError(t, g.PushInbox(ctx, userID, model.InboxEntry{BroadcastID: uuid.New()}))

	notifications, err := g.SubscribeNotify(ctx)
	require.NoError(t, err)

	ev := model.NewDeliveryEvent(broadcastID, userID, model.EventCancelled)
	require.NoError(t, o.Dispatch(ctx, ev))

	inbox, err := g.ListInbox(ctx, userID, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.NotEqual(t, broadcastID, inbox[0].BroadcastID)

	select {
	case n := <-notifications:
		assert.Equal(t, grid.NotifyMessageRemoved, n.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not received")
	}
}
