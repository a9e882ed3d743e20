// Package orchestrator consumes the orchestration topic and turns delivery
// events into grid state: delivery rows for read-side audiences, inbox
// entries and notifications for online users, pending events for offline
// ones. Workers on the pods holding the streams react to the notifications.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/webitel/broadcast-delivery-service/config"
	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/service"
	"github.com/webitel/broadcast-delivery-service/internal/storage/grid"
	"github.com/webitel/broadcast-delivery-service/internal/storage/postgres"
)

type Orchestrator struct {
	store     *postgres.Store
	grid      grid.Grid
	content   service.ContentProvider
	targeting service.Targeter
	logger    *slog.Logger
	pageSize  int
}

func NewOrchestrator(store *postgres.Store, g grid.Grid, content service.ContentProvider, targeting service.Targeter, logger *slog.Logger, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		store:     store,
		grid:      g,
		content:   content,
		targeting: targeting,
		logger:    logger.With("component", "orchestrator"),
		pageSize:  cfg.DB.BatchSize,
	}
}

// Dispatch routes one delivery event. Unknown event types are acknowledged:
// they come from a newer writer and retrying cannot help.
func (o *Orchestrator) Dispatch(ctx context.Context, ev *model.MessageDeliveryEvent) error {
	switch ev.EventType {
	case model.EventCreated:
		if ev.IsGroup() {
			return o.onGroupCreated(ctx, ev)
		}
		return o.onUserCreated(ctx, ev)
	case model.EventRead:
		return o.onRead(ctx, ev)
	case model.EventCancelled, model.EventExpired:
		return o.onRemoved(ctx, ev)
	case model.EventFailed:
		return o.onFailed(ctx, ev)
	}
	o.logger.Warn("unknown delivery event type acknowledged",
		"event_id", ev.EventID, "event_type", ev.EventType)
	return nil
}

// onGroupCreated performs read-side fan-out: the audience resolves here, at
// consume time, page by page. Rows insert idempotently, so a retried group
// event never double-counts.
func (o *Orchestrator) onGroupCreated(ctx context.Context, ev *model.MessageDeliveryEvent) error {
	b, err := o.content.Content(ctx, ev.BroadcastID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			o.logger.Warn("group event for missing broadcast acknowledged", "broadcast_id", ev.BroadcastID)
			return nil
		}
		return err
	}
	if b.Status.IsTerminal() {
		return nil
	}
	if ev.Target == nil {
		return apperr.Newf(apperr.KindSerializationPoison, "group event %s carries no target", ev.EventID)
	}

	offset := 0
	for {
		page, err := o.targeting.Resolve(ctx, *ev.Target, offset, o.pageSize)
		if err != nil {
			return apperr.Wrap(apperr.KindProcessingFailure, "resolve group audience", err)
		}
		if len(page) == 0 {
			return nil
		}

		if !ev.FireAndForget {
			err = o.store.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
				inserted, err := o.store.InsertDeliveriesBatch(ctx, tx, ev.BroadcastID, page)
				if err != nil {
					return err
				}
				if inserted == 0 {
					return nil
				}
				return o.store.IncrStatistics(ctx, tx, ev.BroadcastID, postgres.StatTargeted, inserted)
			})
			if err != nil {
				return err
			}
		}

		for _, userID := range page {
			if err := o.routeToUser(ctx, ev, userID); err != nil {
				return err
			}
		}
		offset += len(page)
	}
}

// onUserCreated handles write-side fan-out events, whose delivery rows were
// precomputed before activation.
func (o *Orchestrator) onUserCreated(ctx context.Context, ev *model.MessageDeliveryEvent) error {
	// Warm the content tiers before any stream asks for it.
	if _, err := o.content.Content(ctx, ev.BroadcastID); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			o.logger.Warn("delivery event for missing broadcast acknowledged", "broadcast_id", ev.BroadcastID)
			return nil
		}
		return err
	}
	return o.routeToUser(ctx, ev, ev.UserID)
}

// routeToUser is the per-recipient branch: online users get an inbox entry
// plus a notification for the worker holding their streams; offline users get
// a TTL-bounded pending event, unless the broadcast is fire-and-forget.
func (o *Orchestrator) routeToUser(ctx context.Context, ev *model.MessageDeliveryEvent, userID uuid.UUID) error {
	online, err := o.grid.IsOnline(ctx, userID)
	if err != nil {
		return err
	}
	if !online {
		if ev.FireAndForget {
			return nil
		}
		return o.grid.EnqueuePending(ctx, userID, ev)
	}

	if err := o.grid.PushInbox(ctx, userID, model.InboxEntry{
		BroadcastID:    ev.BroadcastID,
		DeliveryStatus: model.DeliveryPending,
		ReadStatus:     model.ReadUnread,
		CreatedAt:      ev.OccurredAt,
	}); err != nil {
		return err
	}
	return o.grid.PublishNotify(ctx, grid.Notification{
		Kind:        grid.NotifyMessage,
		UserID:      userID,
		BroadcastID: ev.BroadcastID,
	})
}

// onRead mirrors a read receipt to every stream of the user.
func (o *Orchestrator) onRead(ctx context.Context, ev *model.MessageDeliveryEvent) error {
	return o.grid.PublishNotify(ctx, grid.Notification{
		Kind:        grid.NotifyReadReceipt,
		UserID:      ev.UserID,
		BroadcastID: ev.BroadcastID,
	})
}

// onRemoved drops the inbox entry and tells live streams to remove the
// message.
func (o *Orchestrator) onRemoved(ctx context.Context, ev *model.MessageDeliveryEvent) error {
	if err := o.grid.RemoveInbox(ctx, ev.UserID, ev.BroadcastID); err != nil {
		return err
	}
	return o.grid.PublishNotify(ctx, grid.Notification{
		Kind:        grid.NotifyMessageRemoved,
		UserID:      ev.UserID,
		BroadcastID: ev.BroadcastID,
	})
}

func (o *Orchestrator) onFailed(ctx context.Context, ev *model.MessageDeliveryEvent) error {
	return o.store.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return o.store.MarkFailed(ctx, tx, ev.BroadcastID, ev.UserID)
	})
}

// decodeEvent parses the wire payload. Decode failures are poison, never
// retryable.
func decodeEvent(payload []byte) (*model.MessageDeliveryEvent, error) {
	var ev model.MessageDeliveryEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, apperr.Wrap(apperr.KindSerializationPoison, "decode delivery event", err)
	}
	return &ev, nil
}
