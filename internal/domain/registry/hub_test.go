package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/broadcast-delivery-service/internal/domain/event"
)

func recvFrame(t *testing.T, conn Connector) event.Eventer {
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

func TestHubRoutesFrameToUser(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	userID := uuid.New()
	conn := NewConnector(context.Background(), userID, uuid.Nil, 16)
	hub.Register(conn)

	require.True(t, hub.IsConnected(userID))
	require.True(t, hub.Broadcast(event.NewFrame(userID, event.Message, event.PriorityNormal, "hello")))

	ev := recvFrame(t, conn)
	assert.Equal(t, event.Message, ev.GetKind())
	assert.Equal(t, userID, ev.GetUserID())
}

func TestHubBroadcastMissesUnknownUser(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	assert.False(t, hub.Broadcast(event.NewFrame(uuid.New(), event.Message, event.PriorityNormal, nil)))
}

func TestHubMultiplexesSessions(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	userID := uuid.New()
	first := NewConnector(context.Background(), userID, uuid.Nil, 16)
	second := NewConnector(context.Background(), userID, uuid.Nil, 16)
	hub.Register(first)
	hub.Register(second)

	require.True(t, hub.Broadcast(event.NewFrame(userID, event.Message, event.PriorityNormal, nil)))

	assert.Equal(t, event.Message, recvFrame(t, first).GetKind())
	assert.Equal(t, event.Message, recvFrame(t, second).GetKind())
}

func TestHubUnregisterLastSessionReclaimsCell(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	userID := uuid.New()
	conn := NewConnector(context.Background(), userID, uuid.Nil, 16)
	hub.Register(conn)
	require.True(t, hub.IsConnected(userID))

	hub.Unregister(userID, conn.GetID())
	assert.False(t, hub.IsConnected(userID))
	assert.Empty(t, hub.ConnectedUsers())
}

func TestHubStats(t *testing.T) {
	hub := NewHub()
	defer hub.Shutdown()

	alice, bob := uuid.New(), uuid.New()
	hub.Register(NewConnector(context.Background(), alice, uuid.Nil, 16))
	hub.Register(NewConnector(context.Background(), alice, uuid.Nil, 16))
	hub.Register(NewConnector(context.Background(), bob, uuid.Nil, 16))

	stats := hub.Stats()
	assert.Equal(t, 2, stats.TotalUsers)
	assert.Equal(t, 3, stats.TotalConnections)
}

func TestHubShutdownPushesDrainFrame(t *testing.T) {
	hub := NewHub()

	userID := uuid.New()
	conn := NewConnector(context.Background(), userID, uuid.Nil, 16)
	hub.Register(conn)

	hub.Shutdown()

	ev := recvFrame(t, conn)
	assert.Equal(t, event.ServerShutdown, ev.GetKind())

	// New registrations are refused while draining.
	late := NewConnector(context.Background(), uuid.New(), uuid.Nil, 16)
	hub.Register(late)
	assert.False(t, hub.IsConnected(late.GetUserID()))
}

func TestConnectorReusesProvidedID(t *testing.T) {
	id := uuid.New()
	conn := NewConnector(context.Background(), uuid.New(), id, 4)
	assert.Equal(t, id, conn.GetID())

	minted := NewConnector(context.Background(), uuid.New(), uuid.Nil, 4)
	assert.NotEqual(t, uuid.Nil, minted.GetID())
}

func TestConnectorShedsLowPriorityUnderBackpressure(t *testing.T) {
	conn := NewConnector(context.Background(), uuid.New(), uuid.Nil, 1)
	userID := conn.GetUserID()

	require.True(t, conn.Send(event.NewFrame(userID, event.Message, event.PriorityNormal, nil), 10*time.Millisecond))

	// Buffer full: a low-priority frame is dropped outright.
	assert.False(t, conn.Send(event.NewFrame(userID, event.Heartbeat, event.PriorityLow, nil), 10*time.Millisecond))
	assert.Equal(t, uint64(1), conn.Dropped())

	// A higher-priority frame displaces the queued lower-priority one.
	assert.True(t, conn.Send(event.NewFrame(userID, event.ServerShutdown, event.PriorityHigh, nil), 10*time.Millisecond))
	ev := recvFrame(t, conn)
	assert.Equal(t, event.ServerShutdown, ev.GetKind())
}

func TestConnectorCloseIsIdempotent(t *testing.T) {
	conn := NewConnector(context.Background(), uuid.New(), uuid.Nil, 4)
	conn.Close()
	conn.Close()

	assert.False(t, conn.Send(event.NewFrame(conn.GetUserID(), event.Message, event.PriorityNormal, nil), 10*time.Millisecond))
	_, ok := <-conn.Recv()
	assert.False(t, ok)
}
