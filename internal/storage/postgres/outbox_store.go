package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
)

// InsertOutboxEvent writes one pending log record. It deliberately takes a
// pgx.Tx, not a Querier: emitting an event outside the business transaction
// is rejected at the signature level.
func (s *Store) InsertOutboxEvent(ctx context.Context, tx pgx.Tx, ev *model.OutboxEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (id, aggregate_id, event_type, topic, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.AggregateID, ev.EventType, ev.Topic, ev.Payload, ev.CreatedAt)
	return storeErr("insert outbox event", err)
}

// ClaimOutboxBatch selects up to limit unpublished rows in position order,
// locked for the poller's transaction. The identity column keeps rows of one
// transaction in insertion order even when their timestamps tie. SKIP LOCKED
// lets a second poller (a lease handover race) pass over rows already being
// published.
func (s *Store) ClaimOutboxBatch(ctx context.Context, tx pgx.Tx, limit int) ([]*model.OutboxEvent, error) {
	rows, err := tx.Query(ctx, `
		SELECT position, id, aggregate_id, event_type, topic, payload, created_at
		FROM outbox_events
		ORDER BY position
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, storeErr("claim outbox batch", err)
	}
	defer rows.Close()

	var out []*model.OutboxEvent
	for rows.Next() {
		var ev model.OutboxEvent
		if err := rows.Scan(&ev.Position, &ev.ID, &ev.AggregateID, &ev.EventType, &ev.Topic, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, storeErr("scan outbox event", err)
		}
		out = append(out, &ev)
	}
	return out, storeErr("claim outbox batch", rows.Err())
}

// DeleteOutboxEvents removes published rows inside the poller's transaction.
func (s *Store) DeleteOutboxEvents(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `DELETE FROM outbox_events WHERE id = ANY($1)`, ids)
	return storeErr("delete outbox events", err)
}

// QuarantineOutboxEvent moves a poison row out of the hot path so it can
// never block the poller again.
func (s *Store) QuarantineOutboxEvent(ctx context.Context, tx pgx.Tx, ev *model.OutboxEvent, reason string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_quarantine (id, aggregate_id, event_type, topic, payload, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.AggregateID, ev.EventType, ev.Topic, ev.Payload, reason, ev.CreatedAt)
	if err != nil {
		return storeErr("quarantine outbox event", err)
	}
	_, err = tx.Exec(ctx, `DELETE FROM outbox_events WHERE id = $1`, ev.ID)
	return storeErr("quarantine outbox event", err)
}

func (s *Store) ListQuarantine(ctx context.Context, limit, offset int) ([]*model.QuarantinedEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, aggregate_id, event_type, topic, payload, reason, created_at, quarantined_at
		FROM outbox_quarantine ORDER BY quarantined_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, storeErr("list quarantine", err)
	}
	defer rows.Close()

	var out []*model.QuarantinedEvent
	for rows.Next() {
		var ev model.QuarantinedEvent
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &ev.EventType, &ev.Topic, &ev.Payload,
			&ev.Reason, &ev.CreatedAt, &ev.QuarantinedAt); err != nil {
			return nil, storeErr("scan quarantine", err)
		}
		out = append(out, &ev)
	}
	return out, storeErr("list quarantine", rows.Err())
}

// CountOutbox is used by tests and the stats endpoint to watch drain progress.
func (s *Store) CountOutbox(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM outbox_events`).Scan(&n)
	return n, storeErr("count outbox", err)
}
