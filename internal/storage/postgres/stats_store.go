package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
)

// StatCounter names one of the per-broadcast counters.
type StatCounter string

const (
	StatTargeted  StatCounter = "total_targeted"
	StatDelivered StatCounter = "total_delivered"
	StatRead      StatCounter = "total_read"
	StatFailed    StatCounter = "total_failed"
)

// IncrStatistics upserts one counter atomically with the delivery transition
// sharing the transaction.
func (s *Store) IncrStatistics(ctx context.Context, q Querier, broadcastID uuid.UUID, counter StatCounter, delta int64) error {
	switch counter {
	case StatTargeted, StatDelivered, StatRead, StatFailed:
	default:
		return fmt.Errorf("unknown statistics counter %q", counter)
	}
	_, err := q.Exec(ctx, `
		INSERT INTO broadcast_statistics (broadcast_id, `+string(counter)+`, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (broadcast_id) DO UPDATE
		SET `+string(counter)+` = broadcast_statistics.`+string(counter)+` + $2, updated_at = now()`,
		broadcastID, delta)
	return storeErr("incr statistics", err)
}

func (s *Store) GetStatistics(ctx context.Context, broadcastID uuid.UUID) (*model.BroadcastStatistics, error) {
	var st model.BroadcastStatistics
	err := s.pool.QueryRow(ctx, `
		SELECT broadcast_id, total_targeted, total_delivered, total_read, total_failed, updated_at
		FROM broadcast_statistics WHERE broadcast_id = $1`, broadcastID).
		Scan(&st.BroadcastID, &st.TotalTargeted, &st.TotalDelivered, &st.TotalRead, &st.TotalFailed, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No deliveries counted yet: report zeros rather than an error.
			return &model.BroadcastStatistics{BroadcastID: broadcastID}, nil
		}
		return nil, storeErr("get statistics", err)
	}
	return &st, nil
}
