// Package logbus binds the message log. Topics are keyed JSON; the
// orchestration topic is partitioned by the event's partition key so one
// user's events stay ordered end to end. Every topic has a dead-letter
// sibling carrying the "-dlt" suffix.
package logbus

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/webitel/broadcast-delivery-service/config"
)

const (
	// MetaPartitionKey carries the log partition key on every message.
	MetaPartitionKey = "partition_key"
	// DltSuffix names the dead-letter sibling of a topic.
	DltSuffix = "-dlt"
)

// DltTopic returns the dead-letter sibling of topic.
func DltTopic(topic string) string { return topic + DltSuffix }

// NewLogger adapts slog for watermill internals.
func NewLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}

func marshaler() kafka.MarshalerUnmarshaler {
	return kafka.NewWithPartitioningMarshaler(func(_ string, msg *message.Message) (string, error) {
		return msg.Metadata.Get(MetaPartitionKey), nil
	})
}

// NewKafkaPublisher builds the synchronous publisher used by the outbox
// poller and the DLT manager. Publishes block until broker acknowledgment.
func NewKafkaPublisher(cfg *config.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:   cfg.Kafka.Brokers,
		Marshaler: marshaler(),
	}, logger)
}

// NewKafkaSubscriber builds a consumer-group subscriber for the given group.
// Partitions are consumed serially, preserving per-key order.
func NewKafkaSubscriber(cfg *config.Config, group string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(kafka.SubscriberConfig{
		Brokers:       cfg.Kafka.Brokers,
		Unmarshaler:   marshaler(),
		ConsumerGroup: group,
	}, logger)
}
