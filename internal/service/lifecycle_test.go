package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/storage/postgres"
)

type fakeLifecycleStore struct {
	broadcasts map[uuid.UUID]*model.Broadcast
	pending    map[uuid.UUID][]*model.UserBroadcast
	delivered  map[uuid.UUID][]uuid.UUID
}

func newFakeLifecycleStore() *fakeLifecycleStore {
	return &fakeLifecycleStore{
		broadcasts: make(map[uuid.UUID]*model.Broadcast),
		pending:    make(map[uuid.UUID][]*model.UserBroadcast),
		delivered:  make(map[uuid.UUID][]uuid.UUID),
	}
}

func (s *fakeLifecycleStore) WithinTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (s *fakeLifecycleStore) Pool() *pgxpool.Pool { return nil }

func (s *fakeLifecycleStore) InsertBroadcast(_ context.Context, _ postgres.Querier, b *model.Broadcast) error {
	copied := *b
	s.broadcasts[b.ID] = &copied
	return nil
}

func (s *fakeLifecycleStore) GetBroadcast(_ context.Context, id uuid.UUID) (*model.Broadcast, error) {
	b, ok := s.broadcasts[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "broadcast %s not found", id)
	}
	copied := *b
	return &copied, nil
}

func (s *fakeLifecycleStore) TransitionBroadcast(_ context.Context, _ postgres.Querier, id uuid.UUID, from, to model.BroadcastStatus) error {
	b, ok := s.broadcasts[id]
	if !ok || b.Status != from {
		return apperr.Newf(apperr.KindConflictCAS, "broadcast %s is no longer %s", id, from)
	}
	b.Status = to
	return nil
}

func (s *fakeLifecycleStore) SupersedePending(_ context.Context, _ postgres.Querier, broadcastID uuid.UUID) ([]uuid.UUID, error) {
	var users []uuid.UUID
	var kept []*model.UserBroadcast
	for _, row := range s.pending[broadcastID] {
		if row.DeliveryStatus == model.DeliveryPending {
			row.DeliveryStatus = model.DeliverySuperseded
			users = append(users, row.UserID)
			continue
		}
		kept = append(kept, row)
	}
	s.pending[broadcastID] = kept
	return users, nil
}

func (s *fakeLifecycleStore) DeliveredUsers(_ context.Context, broadcastID uuid.UUID) ([]uuid.UUID, error) {
	return s.delivered[broadcastID], nil
}

func (s *fakeLifecycleStore) PendingUserIDs(_ context.Context, broadcastID uuid.UUID, afterID int64, limit int) ([]*model.UserBroadcast, error) {
	var out []*model.UserBroadcast
	for _, row := range s.pending[broadcastID] {
		if row.ID > afterID && row.DeliveryStatus == model.DeliveryPending {
			out = append(out, row)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type captureEmitter struct {
	events []*model.MessageDeliveryEvent
}

func (e *captureEmitter) Emit(_ context.Context, _ pgx.Tx, ev *model.MessageDeliveryEvent) error {
	e.events = append(e.events, ev)
	return nil
}

func (e *captureEmitter) EmitBatch(_ context.Context, _ pgx.Tx, evs []*model.MessageDeliveryEvent) error {
	e.events = append(e.events, evs...)
	return nil
}

type countingCache struct {
	primed      int
	invalidated int
}

func (c *countingCache) Content(context.Context, uuid.UUID) (*model.Broadcast, error) {
	return nil, apperr.New(apperr.KindNotFound, "not cached")
}
func (c *countingCache) Prime(context.Context, *model.Broadcast) { c.primed++ }
func (c *countingCache) Invalidate(context.Context, uuid.UUID)   { c.invalidated++ }

type lifecycleFixture struct {
	store   *fakeLifecycleStore
	emitter *captureEmitter
	cache   *countingCache
	mgr     *LifecycleManager
}

func newLifecycleFixture() *lifecycleFixture {
	f := &lifecycleFixture{
		store:   newFakeLifecycleStore(),
		emitter: &captureEmitter{},
		cache:   &countingCache{},
	}
	f.mgr = &LifecycleManager{
		store:     f.store,
		publisher: f.emitter,
		cache:     f.cache,
		logger:    discardLogger(),
		pageSize:  2,
	}
	return f
}

func future() *time.Time {
	t := time.Now().UTC().Add(time.Hour)
	return &t
}

func past() *time.Time {
	t := time.Now().UTC().Add(-time.Hour)
	return &t
}

func TestCreateBroadcastStatusDerivation(t *testing.T) {
	tests := []struct {
		name       string
		in         *model.Broadcast
		wantStatus model.BroadcastStatus
		wantEvents int
	}{
		{
			name:       "scheduled in the future",
			in:         &model.Broadcast{Target: model.TargetSpec{Type: model.TargetAll}, ScheduledAt: future()},
			wantStatus: model.StatusScheduled,
			wantEvents: 0,
		},
		{
			name:       "immediate product audience precomputes first",
			in:         &model.Broadcast{Target: model.TargetSpec{Type: model.TargetProduct, Product: "crm"}},
			wantStatus: model.StatusPreparing,
			wantEvents: 0,
		},
		{
			name:       "immediate read-side audience goes live",
			in:         &model.Broadcast{Target: model.TargetSpec{Type: model.TargetAll}, FireAndForget: true},
			wantStatus: model.StatusActive,
			wantEvents: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLifecycleFixture()
			got, err := f.mgr.CreateBroadcast(context.Background(), tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, model.PriorityNormalBroadcast, got.Priority)
			require.Len(t, f.emitter.events, tt.wantEvents)
			if tt.wantEvents == 1 {
				ev := f.emitter.events[0]
				assert.Equal(t, model.EventCreated, ev.EventType)
				assert.True(t, ev.IsGroup())
				assert.Equal(t, tt.in.FireAndForget, ev.FireAndForget)
			}
			assert.Equal(t, 1, f.cache.primed)
		})
	}
}

func TestCreateBroadcastValidation(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	_, err := f.mgr.CreateBroadcast(ctx, &model.Broadcast{
		Target: model.TargetSpec{Type: model.TargetRole}})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.mgr.CreateBroadcast(ctx, &model.Broadcast{
		Target: model.TargetSpec{Type: model.TargetAll}, ScheduledAt: past()})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.mgr.CreateBroadcast(ctx, &model.Broadcast{
		Target: model.TargetSpec{Type: model.TargetAll}, ExpiresAt: past()})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Empty(t, f.store.broadcasts)
}

func TestCreateBroadcastDedupesSelectedUsers(t *testing.T) {
	f := newLifecycleFixture()
	dup := uuid.New()
	got, err := f.mgr.CreateBroadcast(context.Background(), &model.Broadcast{
		Target: model.TargetSpec{Type: model.TargetSelected, UserIDs: []uuid.UUID{dup, dup, uuid.New()}},
	})
	require.NoError(t, err)
	assert.Len(t, got.Target.UserIDs, 2)
}

func TestCancelBroadcastEmitsRemovals(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	b, err := f.mgr.CreateBroadcast(ctx, &model.Broadcast{Target: model.TargetSpec{Type: model.TargetAll}})
	require.NoError(t, err)
	f.emitter.events = nil

	pendingUser, deliveredUser := uuid.New(), uuid.New()
	f.store.pending[b.ID] = []*model.UserBroadcast{
		{ID: 1, BroadcastID: b.ID, UserID: pendingUser, DeliveryStatus: model.DeliveryPending},
	}
	f.store.delivered[b.ID] = []uuid.UUID{deliveredUser}

	require.NoError(t, f.mgr.CancelBroadcast(ctx, b.ID))
	assert.Equal(t, model.StatusCancelled, f.store.broadcasts[b.ID].Status)
	assert.Equal(t, 1, f.cache.invalidated)

	// One CANCELLED event per affected user, superseded and delivered alike.
	require.Len(t, f.emitter.events, 2)
	users := []uuid.UUID{f.emitter.events[0].UserID, f.emitter.events[1].UserID}
	assert.ElementsMatch(t, []uuid.UUID{pendingUser, deliveredUser}, users)
	for _, ev := range f.emitter.events {
		assert.Equal(t, model.EventCancelled, ev.EventType)
	}
}

func TestCancelBroadcastRejectsTerminalStates(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	id := uuid.New()
	f.store.broadcasts[id] = &model.Broadcast{ID: id, Status: model.StatusExpired}

	err := f.mgr.CancelBroadcast(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, model.StatusExpired, f.store.broadcasts[id].Status)

	err = f.mgr.CancelBroadcast(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestActivateReadyPagesPendingUsers(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	id := uuid.New()
	f.store.broadcasts[id] = &model.Broadcast{ID: id, Status: model.StatusReady}
	for i := int64(1); i <= 3; i++ {
		f.store.pending[id] = append(f.store.pending[id], &model.UserBroadcast{
			ID: i, BroadcastID: id, UserID: uuid.New(), DeliveryStatus: model.DeliveryPending,
		})
	}

	b := &model.Broadcast{ID: id, Status: model.StatusReady, FireAndForget: true}
	require.NoError(t, f.mgr.ActivateReady(ctx, b))

	assert.Equal(t, model.StatusActive, b.Status)
	assert.Equal(t, model.StatusActive, f.store.broadcasts[id].Status)
	assert.Equal(t, 1, f.cache.primed)

	// Page size 2 over 3 rows still emits exactly one CREATED per user.
	require.Len(t, f.emitter.events, 3)
	for _, ev := range f.emitter.events {
		assert.Equal(t, model.EventCreated, ev.EventType)
		assert.True(t, ev.FireAndForget)
		assert.False(t, ev.IsGroup())
	}
}

func TestActivateScheduledLosesRace(t *testing.T) {
	f := newLifecycleFixture()
	id := uuid.New()
	f.store.broadcasts[id] = &model.Broadcast{ID: id, Status: model.StatusCancelled}

	err := f.mgr.ActivateScheduled(context.Background(), &model.Broadcast{ID: id, Status: model.StatusScheduled})
	assert.ErrorIs(t, err, apperr.ErrConflictCAS)
	assert.Empty(t, f.emitter.events)
}

func TestBeginPrecomputeTransitions(t *testing.T) {
	f := newLifecycleFixture()
	ctx := context.Background()

	id := uuid.New()
	f.store.broadcasts[id] = &model.Broadcast{ID: id, Status: model.StatusScheduled}
	b := &model.Broadcast{ID: id, Status: model.StatusScheduled}

	require.NoError(t, f.mgr.BeginPrecompute(ctx, b))
	assert.Equal(t, model.StatusPreparing, b.Status)

	// A second pod replaying the same tick loses the CAS.
	err := f.mgr.BeginPrecompute(ctx, &model.Broadcast{ID: id, Status: model.StatusScheduled})
	assert.ErrorIs(t, err, apperr.ErrConflictCAS)
}
