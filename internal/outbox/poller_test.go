package outbox

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/broadcast-delivery-service/internal/adapter/logbus"
	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
)

type fakePollerStore struct {
	events      []*model.OutboxEvent
	quarantined map[uuid.UUID]string
	deleted     []uuid.UUID
}

func newFakePollerStore(events ...*model.OutboxEvent) *fakePollerStore {
	return &fakePollerStore{
		events:      append([]*model.OutboxEvent(nil), events...),
		quarantined: make(map[uuid.UUID]string),
	}
}

func (s *fakePollerStore) WithinTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (s *fakePollerStore) ClaimOutboxBatch(_ context.Context, _ pgx.Tx, limit int) ([]*model.OutboxEvent, error) {
	out := append([]*model.OutboxEvent(nil), s.events...)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakePollerStore) DeleteOutboxEvents(_ context.Context, _ pgx.Tx, ids []uuid.UUID) error {
	s.deleted = append(s.deleted, ids...)
	for _, id := range ids {
		s.remove(id)
	}
	return nil
}

func (s *fakePollerStore) QuarantineOutboxEvent(_ context.Context, _ pgx.Tx, ev *model.OutboxEvent, reason string) error {
	s.quarantined[ev.ID] = reason
	s.remove(ev.ID)
	return nil
}

func (s *fakePollerStore) TryAcquireLease(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}

func (s *fakePollerStore) ReleaseLease(context.Context, string, string, time.Duration) error {
	return nil
}

func (s *fakePollerStore) remove(id uuid.UUID) {
	for i, ev := range s.events {
		if ev.ID == id {
			s.events = append(s.events[:i], s.events[i+1:]...)
			return
		}
	}
}

type capturePublisher struct {
	err      error
	topics   []string
	messages []*message.Message
}

func (p *capturePublisher) Publish(topic string, msgs ...*message.Message) error {
	if p.err != nil {
		return p.err
	}
	for range msgs {
		p.topics = append(p.topics, topic)
	}
	p.messages = append(p.messages, msgs...)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func newTestPoller(store *fakePollerStore, pub *capturePublisher) *Poller {
	return &Poller{
		store:     store,
		publisher: pub,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		batchSize: 10,
		owner:     "pod-test",
	}
}

func outboxRow(position int64, createdAt time.Time, payload []byte) *model.OutboxEvent {
	return &model.OutboxEvent{
		Position:    position,
		ID:          uuid.New(),
		AggregateID: uuid.NewString(),
		EventType:   string(model.EventCreated),
		Topic:       "broadcast.orchestration.v1",
		Payload:     payload,
		CreatedAt:   createdAt,
	}
}

func goodPayload(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(model.NewDeliveryEvent(uuid.New(), uuid.New(), model.EventCreated))
	require.NoError(t, err)
	return payload
}

func TestPollOnceQuarantinesPoisonRows(t *testing.T) {
	now := time.Now().UTC()
	poison := outboxRow(1, now, []byte("{not a delivery event"))
	good := outboxRow(2, now, goodPayload(t))
	store := newFakePollerStore(poison, good)
	pub := &capturePublisher{}

	n, err := newTestPoller(store, pub).PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The poison row landed in quarantine instead of blocking the batch.
	assert.Contains(t, store.quarantined, poison.ID)
	assert.Equal(t, []uuid.UUID{good.ID}, store.deleted)
	assert.Empty(t, store.events)

	require.Len(t, pub.messages, 1)
	assert.Equal(t, good.ID.String(), pub.messages[0].UUID)
	assert.Equal(t, good.AggregateID, pub.messages[0].Metadata.Get(logbus.MetaPartitionKey))
}

func TestPollOncePublishesInPositionOrder(t *testing.T) {
	// Same-timestamp rows: created_at alone cannot order them.
	now := time.Now().UTC()
	rows := []*model.OutboxEvent{
		outboxRow(3, now, goodPayload(t)),
		outboxRow(1, now, goodPayload(t)),
		outboxRow(2, now, goodPayload(t)),
	}
	store := newFakePollerStore(rows...)
	pub := &capturePublisher{}

	n, err := newTestPoller(store, pub).PollOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)

	wantOrder := []string{rows[1].ID.String(), rows[2].ID.String(), rows[0].ID.String()}
	var gotOrder []string
	for _, msg := range pub.messages {
		gotOrder = append(gotOrder, msg.UUID)
	}
	assert.Equal(t, wantOrder, gotOrder)
}

func TestPollOnceAbortsBatchOnBrokerFailure(t *testing.T) {
	store := newFakePollerStore(outboxRow(1, time.Now().UTC(), goodPayload(t)))
	pub := &capturePublisher{err: assert.AnError}

	_, err := newTestPoller(store, pub).PollOnce(context.Background())
	require.ErrorIs(t, err, apperr.ErrLogUnavailable)

	// Nothing was deleted: the row stays for the next tick.
	assert.Empty(t, store.deleted)
	assert.Len(t, store.events, 1)
}
