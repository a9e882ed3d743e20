package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
)

const deliveryColumns = `id, broadcast_id, user_id, delivery_status, read_status,
	delivered_at, read_at, created_at, updated_at`

func scanDelivery(row pgx.Row) (*model.UserBroadcast, error) {
	var d model.UserBroadcast
	err := row.Scan(&d.ID, &d.BroadcastID, &d.UserID, &d.DeliveryStatus, &d.ReadStatus,
		&d.DeliveredAt, &d.ReadAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// InsertDeliveriesBatch writes one PENDING row per user. Conflicts on
// (broadcast_id, user_id) are skipped, which makes targeting re-runs
// idempotent. Returns the number of rows actually inserted.
func (s *Store) InsertDeliveriesBatch(ctx context.Context, q Querier, broadcastID uuid.UUID, userIDs []uuid.UUID) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	tag, err := q.Exec(ctx, `
		INSERT INTO user_broadcast_messages (broadcast_id, user_id)
		SELECT $1, uid FROM unnest($2::uuid[]) AS uid
		ON CONFLICT (broadcast_id, user_id) DO NOTHING`,
		broadcastID, userIDs)
	if err != nil {
		return 0, storeErr("insert deliveries", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) GetDelivery(ctx context.Context, broadcastID, userID uuid.UUID) (*model.UserBroadcast, error) {
	d, err := scanDelivery(s.pool.QueryRow(ctx, `
		SELECT `+deliveryColumns+` FROM user_broadcast_messages
		WHERE broadcast_id = $1 AND user_id = $2`, broadcastID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Newf(apperr.KindNotFound, "delivery row (%s,%s) not found", broadcastID, userID)
		}
		return nil, storeErr("get delivery", err)
	}
	return d, nil
}

func (s *Store) GetDeliveryByID(ctx context.Context, id int64) (*model.UserBroadcast, error) {
	d, err := scanDelivery(s.pool.QueryRow(ctx, `
		SELECT `+deliveryColumns+` FROM user_broadcast_messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Newf(apperr.KindNotFound, "delivery row %d not found", id)
		}
		return nil, storeErr("get delivery", err)
	}
	return d, nil
}

// ListDeliveries pages the rows of one broadcast for the admin API.
func (s *Store) ListDeliveries(ctx context.Context, broadcastID uuid.UUID, limit, offset int) ([]*model.UserBroadcast, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+` FROM user_broadcast_messages
		WHERE broadcast_id = $1 ORDER BY id LIMIT $2 OFFSET $3`,
		broadcastID, limit, offset)
	if err != nil {
		return nil, storeErr("list deliveries", err)
	}
	defer rows.Close()

	var out []*model.UserBroadcast
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, storeErr("scan delivery", err)
		}
		out = append(out, d)
	}
	return out, storeErr("list deliveries", rows.Err())
}

// MarkDelivered flips PENDING -> DELIVERED and bumps total_delivered in one
// transaction. A row already past PENDING is left untouched: deliveryStatus
// is monotonic, so redelivery after reconnect is a no-op here.
func (s *Store) MarkDelivered(ctx context.Context, broadcastID, userID uuid.UUID) (bool, error) {
	var updated bool
	err := s.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE user_broadcast_messages
			SET delivery_status = 'DELIVERED', delivered_at = now(), updated_at = now()
			WHERE broadcast_id = $1 AND user_id = $2 AND delivery_status = 'PENDING'`,
			broadcastID, userID)
		if err != nil {
			return storeErr("mark delivered", err)
		}
		updated = tag.RowsAffected() > 0
		if !updated {
			return nil
		}
		return s.IncrStatistics(ctx, tx, broadcastID, StatDelivered, 1)
	})
	return updated, err
}

// MarkRead flips UNREAD -> READ inside the caller's transaction. readStatus is
// strictly monotonic; repeated reads are no-ops.
func (s *Store) MarkRead(ctx context.Context, q Querier, broadcastID, userID uuid.UUID) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE user_broadcast_messages
		SET read_status = 'READ', read_at = now(), updated_at = now()
		WHERE broadcast_id = $1 AND user_id = $2 AND read_status = 'UNREAD'`,
		broadcastID, userID)
	if err != nil {
		return false, storeErr("mark read", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed transitions PENDING -> FAILED and counts the failure.
func (s *Store) MarkFailed(ctx context.Context, q Querier, broadcastID, userID uuid.UUID) error {
	tag, err := q.Exec(ctx, `
		UPDATE user_broadcast_messages
		SET delivery_status = 'FAILED', updated_at = now()
		WHERE broadcast_id = $1 AND user_id = $2 AND delivery_status = 'PENDING'`,
		broadcastID, userID)
	if err != nil {
		return storeErr("mark failed", err)
	}
	if tag.RowsAffected() > 0 {
		return s.IncrStatistics(ctx, q, broadcastID, StatFailed, 1)
	}
	return nil
}

// SupersedePending moves every non-terminal row of a broadcast to SUPERSEDED
// and returns the affected user ids, so the lifecycle manager can emit one
// removal event per user.
func (s *Store) SupersedePending(ctx context.Context, q Querier, broadcastID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, `
		UPDATE user_broadcast_messages
		SET delivery_status = 'SUPERSEDED', updated_at = now()
		WHERE broadcast_id = $1 AND delivery_status = 'PENDING'
		RETURNING user_id`, broadcastID)
	if err != nil {
		return nil, storeErr("supersede deliveries", err)
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("scan superseded user", err)
		}
		users = append(users, id)
	}
	return users, storeErr("supersede deliveries", rows.Err())
}

// DeliveredUsers returns users whose rows already reached DELIVERED, used on
// cancel to mirror MESSAGE_REMOVED to streams that saw the message.
func (s *Store) DeliveredUsers(ctx context.Context, broadcastID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM user_broadcast_messages
		WHERE broadcast_id = $1 AND delivery_status = 'DELIVERED'`, broadcastID)
	if err != nil {
		return nil, storeErr("delivered users", err)
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("scan delivered user", err)
		}
		users = append(users, id)
	}
	return users, storeErr("delivered users", rows.Err())
}

// ResetForRedrive is the single sanctioned DELIVERED/FAILED -> PENDING move,
// invoked from DLT redrive in its own transaction.
func (s *Store) ResetForRedrive(ctx context.Context, broadcastID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE user_broadcast_messages
		SET delivery_status = 'PENDING', delivered_at = NULL, updated_at = now()
		WHERE broadcast_id = $1 AND user_id = $2 AND delivery_status <> 'SUPERSEDED'`,
		broadcastID, userID)
	return storeErr("reset for redrive", err)
}

// PendingUserIDs pages users of a broadcast still waiting for delivery.
func (s *Store) PendingUserIDs(ctx context.Context, broadcastID uuid.UUID, afterID int64, limit int) ([]*model.UserBroadcast, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+` FROM user_broadcast_messages
		WHERE broadcast_id = $1 AND delivery_status = 'PENDING' AND id > $2
		ORDER BY id LIMIT $3`, broadcastID, afterID, limit)
	if err != nil {
		return nil, storeErr("pending deliveries", err)
	}
	defer rows.Close()

	var out []*model.UserBroadcast
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, storeErr("scan delivery", err)
		}
		out = append(out, d)
	}
	return out, storeErr("pending deliveries", rows.Err())
}
