package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
)

const broadcastColumns = `id, sender, content, priority, category,
	target_type, target_role, target_product, target_user_ids,
	scheduled_at, expires_at, fire_and_forget, status, created_at, updated_at`

func scanBroadcast(row pgx.Row) (*model.Broadcast, error) {
	var b model.Broadcast
	err := row.Scan(
		&b.ID, &b.Sender, &b.Content, &b.Priority, &b.Category,
		&b.Target.Type, &b.Target.Role, &b.Target.Product, &b.Target.UserIDs,
		&b.ScheduledAt, &b.ExpiresAt, &b.FireAndForget, &b.Status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// InsertBroadcast stores a new broadcast inside the caller's transaction.
func (s *Store) InsertBroadcast(ctx context.Context, q Querier, b *model.Broadcast) error {
	_, err := q.Exec(ctx, `
		INSERT INTO broadcast_messages (`+broadcastColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		b.ID, b.Sender, b.Content, b.Priority, b.Category,
		b.Target.Type, b.Target.Role, b.Target.Product, b.Target.UserIDs,
		b.ScheduledAt, b.ExpiresAt, b.FireAndForget, b.Status, b.CreatedAt, b.UpdatedAt,
	)
	return storeErr("insert broadcast", err)
}

func (s *Store) GetBroadcast(ctx context.Context, id uuid.UUID) (*model.Broadcast, error) {
	b, err := scanBroadcast(s.pool.QueryRow(ctx, `
		SELECT `+broadcastColumns+` FROM broadcast_messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Newf(apperr.KindNotFound, "broadcast %s not found", id)
		}
		return nil, storeErr("get broadcast", err)
	}
	return b, nil
}

// ListBroadcasts returns broadcasts matching the admin filter, newest first.
func (s *Store) ListBroadcasts(ctx context.Context, filter string, limit, offset int) ([]*model.Broadcast, error) {
	where := ""
	switch filter {
	case "active":
		where = `WHERE status = 'ACTIVE'`
	case "scheduled":
		where = `WHERE status IN ('SCHEDULED','PREPARING','READY')`
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+broadcastColumns+` FROM broadcast_messages `+where+`
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, storeErr("list broadcasts", err)
	}
	defer rows.Close()

	var out []*model.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, storeErr("scan broadcast", err)
		}
		out = append(out, b)
	}
	return out, storeErr("list broadcasts", rows.Err())
}

// TransitionBroadcast flips the status only when the broadcast still holds
// the expected previous state. A lost race surfaces as ConflictCAS so the
// caller leaves the row untouched and retries or gives up.
func (s *Store) TransitionBroadcast(ctx context.Context, q Querier, id uuid.UUID, from, to model.BroadcastStatus) error {
	tag, err := q.Exec(ctx, `
		UPDATE broadcast_messages SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return storeErr("transition broadcast", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindConflictCAS, "broadcast %s is no longer %s", id, from)
	}
	return nil
}

// DueScheduled lists SCHEDULED broadcasts with scheduled_at <= now, split by
// fan-out mode via wantProduct.
func (s *Store) DueScheduled(ctx context.Context, now time.Time, wantProduct bool, limit int) ([]*model.Broadcast, error) {
	op := "<>"
	if wantProduct {
		op = "="
	}
	return s.listWhere(ctx, `
		WHERE status = 'SCHEDULED' AND scheduled_at <= $1 AND target_type `+op+` 'PRODUCT'
		ORDER BY scheduled_at LIMIT $2`, now, limit)
}

// PreparingBroadcasts lists broadcasts awaiting audience precompute, oldest
// first. Covers both immediate PRODUCT creations and scheduled ones already
// handed over.
func (s *Store) PreparingBroadcasts(ctx context.Context, limit int) ([]*model.Broadcast, error) {
	return s.listWhere(ctx, `WHERE status = 'PREPARING' ORDER BY updated_at LIMIT $1`, limit)
}

// ReadyForActivation lists READY broadcasts in precompute completion order.
func (s *Store) ReadyForActivation(ctx context.Context, limit int) ([]*model.Broadcast, error) {
	return s.listWhere(ctx, `WHERE status = 'READY' ORDER BY updated_at LIMIT $1`, limit)
}

// ExpiredActive lists ACTIVE broadcasts whose deadline has passed.
func (s *Store) ExpiredActive(ctx context.Context, now time.Time, limit int) ([]*model.Broadcast, error) {
	return s.listWhere(ctx, `
		WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`, now, limit)
}

func (s *Store) listWhere(ctx context.Context, clause string, args ...any) ([]*model.Broadcast, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+broadcastColumns+` FROM broadcast_messages `+clause, args...)
	if err != nil {
		return nil, storeErr("list broadcasts", err)
	}
	defer rows.Close()

	var out []*model.Broadcast
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, storeErr("scan broadcast", err)
		}
		out = append(out, b)
	}
	return out, storeErr("list broadcasts", rows.Err())
}
