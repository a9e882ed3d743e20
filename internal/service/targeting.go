package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/webitel/broadcast-delivery-service/config"
	"github.com/webitel/broadcast-delivery-service/internal/directory"
	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/storage/postgres"
)

// Targeter resolves audiences into delivery rows (write side) or user id
// pages (read side).
type Targeter interface {
	// Precompute materializes the audience of a PREPARING broadcast into
	// PENDING delivery rows and moves it to READY.
	Precompute(ctx context.Context, b *model.Broadcast) error
	// Resolve pages the audience of a read-side target at consume time.
	Resolve(ctx context.Context, target model.TargetSpec, offset, limit int) ([]uuid.UUID, error)
}

type TargetingEngine struct {
	store     *postgres.Store
	directory directory.Provider
	logger    *slog.Logger
	pageSize  int
}

func NewTargetingEngine(store *postgres.Store, dir directory.Provider, logger *slog.Logger, cfg *config.Config) *TargetingEngine {
	return &TargetingEngine{
		store:     store,
		directory: dir,
		logger:    logger.With("component", "targeting"),
		pageSize:  cfg.DB.BatchSize,
	}
}

// Precompute pages the directory and inserts delivery rows batch by batch,
// each batch in its own transaction. Conflicting rows are skipped, so a
// crashed run resumes from scratch without double-counting totalTargeted.
// Directory failure moves the broadcast to FAILED instead of leaving it
// stuck in PREPARING.
func (t *TargetingEngine) Precompute(ctx context.Context, b *model.Broadcast) error {
	if b.Status != model.StatusPreparing {
		return apperr.Newf(apperr.KindConflictCAS, "broadcast %s is %s, not PREPARING", b.ID, b.Status)
	}

	var total int64
	offset := 0
	for {
		page, err := t.Resolve(ctx, b.Target, offset, t.pageSize)
		if err != nil {
			t.logger.Error("audience resolution failed",
				"broadcast_id", b.ID, "offset", offset, "err", err)
			if ferr := t.store.TransitionBroadcast(ctx, t.store.Pool(), b.ID, model.StatusPreparing, model.StatusFailed); ferr != nil {
				return ferr
			}
			return apperr.Wrap(apperr.KindProcessingFailure, "audience resolution", err)
		}
		if len(page) == 0 {
			break
		}

		err = t.store.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			inserted, err := t.store.InsertDeliveriesBatch(ctx, tx, b.ID, page)
			if err != nil {
				return err
			}
			total += inserted
			if inserted == 0 {
				return nil
			}
			return t.store.IncrStatistics(ctx, tx, b.ID, postgres.StatTargeted, inserted)
		})
		if err != nil {
			return err
		}
		offset += len(page)
	}

	if err := t.store.TransitionBroadcast(ctx, t.store.Pool(), b.ID, model.StatusPreparing, model.StatusReady); err != nil {
		return err
	}
	b.Status = model.StatusReady
	t.logger.Info("audience precomputed", "broadcast_id", b.ID, "targeted", total)
	return nil
}

// Resolve pages every audience variant uniformly. Only PRODUCT pages natively
// in the directory; the others resolve fully and slice, which is fine because
// read-side audiences are bounded by what the directory holds in memory.
func (t *TargetingEngine) Resolve(ctx context.Context, target model.TargetSpec, offset, limit int) ([]uuid.UUID, error) {
	switch target.Type {
	case model.TargetProduct:
		return t.directory.UserIDsByProduct(ctx, target.Product, offset, limit)
	case model.TargetAll:
		all, err := t.directory.AllUserIDs(ctx)
		if err != nil {
			return nil, err
		}
		return slicePage(all, offset, limit), nil
	case model.TargetRole:
		users, err := t.directory.UserIDsByRole(ctx, target.Role)
		if err != nil {
			return nil, err
		}
		return slicePage(users, offset, limit), nil
	case model.TargetSelected:
		return slicePage(target.DedupedUserIDs(), offset, limit), nil
	}
	return nil, apperr.Newf(apperr.KindValidation, "unknown target type %q", target.Type)
}

func slicePage(ids []uuid.UUID, offset, limit int) []uuid.UUID {
	if offset >= len(ids) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}
	return ids[offset:end]
}
