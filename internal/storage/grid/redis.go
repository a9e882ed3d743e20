package grid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
)

// Interface guard
var _ Grid = (*RedisGrid)(nil)

// connEnvelope versions the per-user connection map for optimistic writes.
type connEnvelope struct {
	Version     int64               `json:"version"`
	Connections model.ConnectionSet `json:"connections"`
}

type RedisGrid struct {
	rdb        *redis.Client
	keys       keys
	contentTTL time.Duration
	pendingTTL time.Duration
}

type RedisOptions struct {
	Cluster    string
	ContentTTL time.Duration
	PendingTTL time.Duration
}

func NewRedisGrid(rdb *redis.Client, opts RedisOptions) *RedisGrid {
	return &RedisGrid{
		rdb:        rdb,
		keys:       keys{cluster: opts.Cluster},
		contentTTL: opts.ContentTTL,
		pendingTTL: opts.PendingTTL,
	}
}

func gridErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.TxFailedErr) {
		return apperr.Wrap(apperr.KindConflictCAS, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindGridUnavailable, op, err)
	}
	if errors.Is(err, redis.Nil) {
		return apperr.Wrap(apperr.KindNotFound, op, err)
	}
	return apperr.Wrap(apperr.KindGridUnavailable, op, err)
}

// --- connection registry ---

func (g *RedisGrid) GetConnections(ctx context.Context, userID uuid.UUID) (model.ConnectionSet, int64, error) {
	raw, err := g.rdb.Get(ctx, g.keys.conn(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.ConnectionSet{}, 0, nil
	}
	if err != nil {
		return nil, 0, gridErr("get connections", err)
	}
	var env connEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, 0, fmt.Errorf("decode connection map: %w", err)
	}
	return env.Connections, env.Version, nil
}

// PutConnections performs one optimistic write attempt. WATCH detects
// interleaved writers; a version mismatch means the caller's read is stale.
func (g *RedisGrid) PutConnections(ctx context.Context, userID uuid.UUID, set model.ConnectionSet, version int64) error {
	key := g.keys.conn(userID)
	err := g.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var current int64
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			current = 0
		case err != nil:
			return err
		default:
			var env connEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return fmt.Errorf("decode connection map: %w", err)
			}
			current = env.Version
		}
		if current != version {
			return apperr.Newf(apperr.KindConflictCAS, "connection map of %s moved from v%d to v%d", userID, version, current)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(set) == 0 {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, g.keys.online(), userID.String())
				return nil
			}
			payload, err := json.Marshal(connEnvelope{Version: version + 1, Connections: set})
			if err != nil {
				return err
			}
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, g.keys.online(), userID.String())
			return nil
		})
		return err
	}, key)

	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflictCAS {
			return err
		}
		return gridErr("put connections", err)
	}
	return nil
}

func (g *RedisGrid) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	ok, err := g.rdb.SIsMember(ctx, g.keys.online(), userID.String()).Result()
	return ok, gridErr("is online", err)
}

func (g *RedisGrid) OnlineUsers(ctx context.Context) ([]uuid.UUID, error) {
	members, err := g.rdb.SMembers(ctx, g.keys.online()).Result()
	if err != nil {
		return nil, gridErr("online users", err)
	}
	out := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (g *RedisGrid) ConnectionCounts(ctx context.Context) (int, int, error) {
	users, err := g.OnlineUsers(ctx)
	if err != nil {
		return 0, 0, err
	}
	conns := 0
	for _, u := range users {
		set, _, err := g.GetConnections(ctx, u)
		if err != nil {
			return 0, 0, err
		}
		conns += len(set)
	}
	return len(users), conns, nil
}

// --- heartbeats ---

func (g *RedisGrid) PutHeartbeat(ctx context.Context, connID uuid.UUID, hb model.Heartbeat) error {
	payload, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	return gridErr("put heartbeat", g.rdb.Set(ctx, g.keys.heartbeat(connID), payload, 0).Err())
}

func (g *RedisGrid) GetHeartbeat(ctx context.Context, connID uuid.UUID) (model.Heartbeat, bool, error) {
	raw, err := g.rdb.Get(ctx, g.keys.heartbeat(connID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Heartbeat{}, false, nil
	}
	if err != nil {
		return model.Heartbeat{}, false, gridErr("get heartbeat", err)
	}
	var hb model.Heartbeat
	if err := json.Unmarshal(raw, &hb); err != nil {
		return model.Heartbeat{}, false, fmt.Errorf("decode heartbeat: %w", err)
	}
	return hb, true, nil
}

func (g *RedisGrid) DeleteHeartbeat(ctx context.Context, connID uuid.UUID) error {
	return gridErr("delete heartbeat", g.rdb.Del(ctx, g.keys.heartbeat(connID)).Err())
}

// Heartbeats scans the full heartbeat keyspace; only the stale reaper walks
// it, once per tick.
func (g *RedisGrid) Heartbeats(ctx context.Context) (map[uuid.UUID]model.Heartbeat, error) {
	out := make(map[uuid.UUID]model.Heartbeat)
	iter := g.rdb.Scan(ctx, 0, g.keys.heartbeatScan(), 256).Iterator()
	prefix := len(g.keys.heartbeatScan()) - 1
	for iter.Next(ctx) {
		key := iter.Val()
		connID, err := uuid.Parse(key[prefix:])
		if err != nil {
			continue
		}
		hb, ok, err := g.GetHeartbeat(ctx, connID)
		if err != nil {
			return nil, err
		}
		if ok {
			out[connID] = hb
		}
	}
	if err := iter.Err(); err != nil {
		return nil, gridErr("scan heartbeats", err)
	}
	return out, nil
}

// --- inbox ---

func (g *RedisGrid) PushInbox(ctx context.Context, userID uuid.UUID, entry model.InboxEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode inbox entry: %w", err)
	}
	return gridErr("push inbox", g.rdb.LPush(ctx, g.keys.inbox(userID), payload).Err())
}

func (g *RedisGrid) ListInbox(ctx context.Context, userID uuid.UUID, limit int) ([]model.InboxEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raws, err := g.rdb.LRange(ctx, g.keys.inbox(userID), 0, stop).Result()
	if err != nil {
		return nil, gridErr("list inbox", err)
	}
	out := make([]model.InboxEntry, 0, len(raws))
	for _, raw := range raws {
		var e model.InboxEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// RemoveInbox rewrites the user's inbox without the given broadcast. The
// rewrite runs under WATCH so a concurrent push restarts it.
func (g *RedisGrid) RemoveInbox(ctx context.Context, userID, broadcastID uuid.UUID) error {
	key := g.keys.inbox(userID)
	err := g.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raws, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		kept := make([]any, 0, len(raws))
		for _, raw := range raws {
			var e model.InboxEntry
			if err := json.Unmarshal([]byte(raw), &e); err == nil && e.BroadcastID == broadcastID {
				continue
			}
			kept = append(kept, raw)
		}
		if len(kept) == len(raws) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(kept) > 0 {
				// kept is newest-first; RPush preserves that order.
				pipe.RPush(ctx, key, kept...)
			}
			return nil
		})
		return err
	}, key)
	return gridErr("remove inbox", err)
}

// --- content cache ---

func (g *RedisGrid) PutContent(ctx context.Context, b *model.Broadcast) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	return gridErr("put content", g.rdb.Set(ctx, g.keys.content(b.ID), payload, g.contentTTL).Err())
}

func (g *RedisGrid) GetContent(ctx context.Context, id uuid.UUID) (*model.Broadcast, bool, error) {
	raw, err := g.rdb.Get(ctx, g.keys.content(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, gridErr("get content", err)
	}
	var b model.Broadcast
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, false, fmt.Errorf("decode broadcast: %w", err)
	}
	return &b, true, nil
}

func (g *RedisGrid) DeleteContent(ctx context.Context, id uuid.UUID) error {
	return gridErr("delete content", g.rdb.Del(ctx, g.keys.content(id)).Err())
}

// --- pending events ---

func (g *RedisGrid) EnqueuePending(ctx context.Context, userID uuid.UUID, ev *model.MessageDeliveryEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode pending event: %w", err)
	}
	key := g.keys.pending(userID)
	_, err = g.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		pipe.Expire(ctx, key, g.pendingTTL)
		return nil
	})
	return gridErr("enqueue pending", err)
}

func (g *RedisGrid) DrainPending(ctx context.Context, userID uuid.UUID) ([]*model.MessageDeliveryEvent, error) {
	key := g.keys.pending(userID)
	var raws []string
	err := g.rdb.Watch(ctx, func(tx *redis.Tx) error {
		var err error
		raws, err = tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}
		if len(raws) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return nil, gridErr("drain pending", err)
	}

	out := make([]*model.MessageDeliveryEvent, 0, len(raws))
	for _, raw := range raws {
		var ev model.MessageDeliveryEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, &ev)
	}
	return out, nil
}

// --- notification bus ---

func (g *RedisGrid) PublishNotify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return gridErr("publish notify", g.rdb.Publish(ctx, g.keys.notifyChannel(), payload).Err())
}

func (g *RedisGrid) SubscribeNotify(ctx context.Context) (<-chan Notification, error) {
	sub := g.rdb.Subscribe(ctx, g.keys.notifyChannel())
	// Force the subscription before the caller relies on it.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, gridErr("subscribe notify", err)
	}

	out := make(chan Notification, 256)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var n Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (g *RedisGrid) Close() error {
	return g.rdb.Close()
}
