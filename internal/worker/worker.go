// Package worker reacts to grid notifications on the pod that holds the
// target user's streams. It is the last hop: content lookup, frame push and
// the PENDING -> DELIVERED flip all happen here.
package worker

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/webitel/broadcast-delivery-service/internal/domain/event"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/domain/registry"
	"github.com/webitel/broadcast-delivery-service/internal/service"
	"github.com/webitel/broadcast-delivery-service/internal/storage/grid"
)

type Worker struct {
	grid     grid.Grid
	hub      registry.Hubber
	content  service.ContentProvider
	delivery service.Deliverer
	logger   *slog.Logger
}

func New(g grid.Grid, hub registry.Hubber, content service.ContentProvider, delivery service.Deliverer, logger *slog.Logger) *Worker {
	return &Worker{
		grid:     g,
		hub:      hub,
		content:  content,
		delivery: delivery,
		logger:   logger.With("component", "worker"),
	}
}

// Run consumes the notification bus until ctx is cancelled. Every pod runs
// one worker; the locality filter makes exactly the pod holding the user's
// streams act on each notification.
func (w *Worker) Run(ctx context.Context) error {
	notifications, err := w.grid.SubscribeNotify(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			if !w.hub.IsConnected(n.UserID) {
				continue
			}
			if err := w.handle(ctx, n); err != nil {
				w.logger.Error("notification handling failed",
					"kind", n.Kind, "user_id", n.UserID, "broadcast_id", n.BroadcastID, "err", err)
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, n grid.Notification) error {
	switch n.Kind {
	case grid.NotifyMessage:
		return w.deliverMessage(ctx, n.UserID, n.BroadcastID)
	case grid.NotifyReadReceipt:
		w.hub.Broadcast(event.NewFrame(n.UserID, event.ReadReceipt, event.PriorityNormal,
			&event.ReceiptPayload{BroadcastID: n.BroadcastID}))
		return nil
	case grid.NotifyMessageRemoved:
		w.hub.Broadcast(event.NewFrame(n.UserID, event.MessageRemoved, event.PriorityHigh,
			&event.ReceiptPayload{BroadcastID: n.BroadcastID}))
		return nil
	}
	w.logger.Warn("unknown notification kind ignored", "kind", n.Kind)
	return nil
}

// deliverMessage pushes one MESSAGE frame and records delivery. A mailbox
// overflow or a race with disconnect leaves the row PENDING; the pending
// replay on reconnect picks it up.
func (w *Worker) deliverMessage(ctx context.Context, userID, broadcastID uuid.UUID) error {
	b, err := w.content.Content(ctx, broadcastID)
	if err != nil {
		return err
	}
	if b.Status.IsTerminal() {
		return nil
	}

	frame := event.NewFrame(userID, event.Message, framePriority(b.Priority), event.MessagePayloadOf(b))
	if !w.hub.Broadcast(frame) {
		w.logger.Debug("local push missed, leaving row pending",
			"user_id", userID, "broadcast_id", broadcastID)
		return nil
	}
	if b.FireAndForget {
		return nil
	}
	_, err = w.delivery.MarkDelivered(ctx, broadcastID, userID)
	return err
}

// ReplayPending drains events queued while the user was offline and delivers
// them on the freshly opened stream. Called by the connect handler after the
// CONNECTED frame.
func (w *Worker) ReplayPending(ctx context.Context, userID uuid.UUID) error {
	pending, err := w.grid.DrainPending(ctx, userID)
	if err != nil {
		return err
	}
	for _, ev := range pending {
		switch ev.EventType {
		case model.EventCreated:
			if err := w.deliverMessage(ctx, userID, ev.BroadcastID); err != nil {
				return err
			}
		case model.EventCancelled, model.EventExpired:
			w.hub.Broadcast(event.NewFrame(userID, event.MessageRemoved, event.PriorityHigh,
				&event.ReceiptPayload{BroadcastID: ev.BroadcastID}))
		}
	}
	if len(pending) > 0 {
		w.logger.Info("pending events replayed", "user_id", userID, "events", len(pending))
	}
	return nil
}

func framePriority(p model.BroadcastPriority) event.Priority {
	switch p {
	case model.PriorityHighBroadcast, model.PriorityUrgentBroadcast:
		return event.PriorityHigh
	case model.PriorityLowBroadcast:
		return event.PriorityLow
	}
	return event.PriorityNormal
}
