package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
)

const dltColumns = `id, original_topic, partition, "offset", key, title, stack_trace, payload, failed_at`

// InsertDltRecord persists one dead-lettered log record (written by the DLT
// bridge consumer).
func (s *Store) InsertDltRecord(ctx context.Context, rec *model.DltRecord) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO dlt_messages (original_topic, partition, "offset", key, title, stack_trace, payload, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		rec.OriginalTopic, rec.Partition, rec.Offset, rec.Key, rec.Title, rec.StackTrace, rec.Payload, rec.FailedAt).
		Scan(&id)
	return id, storeErr("insert dlt record", err)
}

func (s *Store) GetDltRecord(ctx context.Context, id int64) (*model.DltRecord, error) {
	var rec model.DltRecord
	err := s.pool.QueryRow(ctx, `SELECT `+dltColumns+` FROM dlt_messages WHERE id = $1`, id).
		Scan(&rec.ID, &rec.OriginalTopic, &rec.Partition, &rec.Offset, &rec.Key,
			&rec.Title, &rec.StackTrace, &rec.Payload, &rec.FailedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Newf(apperr.KindNotFound, "dlt record %d not found", id)
		}
		return nil, storeErr("get dlt record", err)
	}
	return &rec, nil
}

// ListDltRecords pages the archive newest first for the operator listing.
func (s *Store) ListDltRecords(ctx context.Context, limit, offset int) ([]*model.DltRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+dltColumns+` FROM dlt_messages ORDER BY failed_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, storeErr("list dlt records", err)
	}
	return scanDltRows(rows, "list dlt records")
}

// OldestDltRecords returns the head of the archive in failure order, used by
// redrive-all so replays happen in the order the failures did.
func (s *Store) OldestDltRecords(ctx context.Context, limit int) ([]*model.DltRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+dltColumns+` FROM dlt_messages ORDER BY failed_at, id LIMIT $1`, limit)
	if err != nil {
		return nil, storeErr("oldest dlt records", err)
	}
	return scanDltRows(rows, "oldest dlt records")
}

func scanDltRows(rows pgx.Rows, op string) ([]*model.DltRecord, error) {
	defer rows.Close()

	var out []*model.DltRecord
	for rows.Next() {
		var rec model.DltRecord
		if err := rows.Scan(&rec.ID, &rec.OriginalTopic, &rec.Partition, &rec.Offset, &rec.Key,
			&rec.Title, &rec.StackTrace, &rec.Payload, &rec.FailedAt); err != nil {
			return nil, storeErr("scan dlt record", err)
		}
		out = append(out, &rec)
	}
	return out, storeErr(op, rows.Err())
}

func (s *Store) DeleteDltRecord(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dlt_messages WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete dlt record", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindNotFound, "dlt record %d not found", id)
	}
	return nil
}

func (s *Store) DeleteAllDltRecords(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM dlt_messages`)
	if err != nil {
		return 0, storeErr("purge dlt records", err)
	}
	return tag.RowsAffected(), nil
}
