package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/webitel/broadcast-delivery-service/config"
	"github.com/webitel/broadcast-delivery-service/internal/adapter/logbus"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/storage/postgres"
)

// dltArchive persists dead letters for the operator API.
type dltArchive interface {
	InsertDltRecord(ctx context.Context, rec *model.DltRecord) (int64, error)
}

// Consumer wires the orchestrator and the dead-letter bridge into one
// watermill router.
type Consumer struct {
	orchestrator *Orchestrator
	store        dltArchive
	logger       *slog.Logger
}

func NewConsumer(o *Orchestrator, store *postgres.Store, logger *slog.Logger) *Consumer {
	return &Consumer{
		orchestrator: o,
		store:        store,
		logger:       logger.With("component", "consumer"),
	}
}

func NewRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{}, logger)
}

// RegisterHandlers attaches the consume pipeline. The orchestration handler
// carries the full chain: exhausted retries fall through to the poison
// middleware, which ships the message to the dead-letter sibling topic. The
// bridge handler persists dead letters for the operator API and deliberately
// has no poison stage of its own, only retries.
func (c *Consumer) RegisterHandlers(router *message.Router, cfg *config.Config, wmLogger watermill.LoggerAdapter, publisher message.Publisher) error {
	topic := cfg.Kafka.Topic.NameOrchestration
	group := cfg.Kafka.Consume.GroupOrchestration

	poison, err := middleware.PoisonQueue(publisher, logbus.DltTopic(topic))
	if err != nil {
		return fmt.Errorf("poison queue setup: %w", err)
	}

	configs := []struct {
		name       string
		topic      string
		group      string
		handler    message.NoPublishHandlerFunc
		middleware []message.HandlerMiddleware
	}{
		{
			name:    "ON_DELIVERY_EVENT",
			topic:   topic,
			group:   group,
			handler: c.handleDeliveryEvent,
			middleware: []message.HandlerMiddleware{
				TraceIDMiddleware,
				LoggingMiddleware(c.logger),
				poison,
				NewRetryMiddleware(cfg).Middleware,
				middleware.NewThrottle(1000, time.Second).Middleware,
				middleware.Timeout(30 * time.Second),
			},
		},
		{
			name:    "ON_DEAD_LETTER",
			topic:   logbus.DltTopic(topic),
			group:   group + ".dlt",
			handler: c.handleDeadLetter,
			middleware: []message.HandlerMiddleware{
				TraceIDMiddleware,
				LoggingMiddleware(c.logger),
				NewRetryMiddleware(cfg).Middleware,
			},
		},
	}

	for _, hc := range configs {
		sub, err := logbus.NewKafkaSubscriber(cfg, hc.group, wmLogger)
		if err != nil {
			return fmt.Errorf("subscriber for %s: %w", hc.name, err)
		}
		router.AddConsumerHandler(hc.name, hc.topic, sub, hc.handler).
			AddMiddleware(hc.middleware...)
	}

	c.logger.Info("consume pipeline registered", "topic", topic, "group", group)
	return nil
}

func (c *Consumer) handleDeliveryEvent(msg *message.Message) error {
	ev, err := decodeEvent(msg.Payload)
	if err != nil {
		return err
	}
	return c.orchestrator.Dispatch(msg.Context(), ev)
}

// poisonContext assembles the failure coordinates the poison middleware
// stamped on the message, for the operator's archive view.
func poisonContext(msg *message.Message) string {
	parts := make([]string, 0, 2)
	if h := msg.Metadata.Get(middleware.PoisonedHandlerKey); h != "" {
		parts = append(parts, "handler="+h)
	}
	if s := msg.Metadata.Get(middleware.PoisonedSubscriberKey); s != "" {
		parts = append(parts, "subscriber="+s)
	}
	return strings.Join(parts, " ")
}

// handleDeadLetter archives one poisoned record with its log coordinates so
// an operator can inspect, redrive or purge it.
func (c *Consumer) handleDeadLetter(msg *message.Message) error {
	rec := &model.DltRecord{
		OriginalTopic: msg.Metadata.Get(middleware.PoisonedTopicKey),
		Key:           msg.Metadata.Get(logbus.MetaPartitionKey),
		Title:         msg.Metadata.Get(middleware.ReasonForPoisonedKey),
		StackTrace:    poisonContext(msg),
		Payload:       msg.Payload,
		FailedAt:      time.Now().UTC(),
	}
	if partition, ok := kafka.MessagePartitionFromCtx(msg.Context()); ok {
		rec.Partition = partition
	}
	if offset, ok := kafka.MessagePartitionOffsetFromCtx(msg.Context()); ok {
		rec.Offset = offset
	}
	if rec.OriginalTopic == "" {
		rec.OriginalTopic = msg.Metadata.Get("original_topic")
	}

	id, err := c.store.InsertDltRecord(msg.Context(), rec)
	if err != nil {
		return err
	}
	c.logger.Warn("dead letter archived",
		"dlt_id", id, "topic", rec.OriginalTopic, "key", rec.Key, "reason", rec.Title)
	return nil
}
