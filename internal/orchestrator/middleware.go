package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"

	"github.com/webitel/broadcast-delivery-service/config"
)

type traceKey struct{}

// TraceIDMiddleware propagates a trace id across the consume pipeline,
// minting one for messages that arrive without it.
func TraceIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		traceID := msg.Metadata.Get("trace_id")
		if traceID == "" {
			traceID = uuid.NewString()
			msg.Metadata.Set("trace_id", traceID)
		}
		msg.SetContext(context.WithValue(msg.Context(), traceKey{}, traceID))
		return h(msg)
	}
}

// LoggingMiddleware records per-message latency and outcome.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)
			logger.Debug("message handled",
				"msg_id", msg.UUID,
				"trace_id", msg.Metadata.Get("trace_id"),
				"duration_ms", time.Since(start).Milliseconds(),
				"success", err == nil,
			)
			return msgs, err
		}
	}
}

// NewRetryMiddleware builds the bounded retry policy from config. Exhausted
// retries surface the error to the poison middleware above it.
func NewRetryMiddleware(cfg *config.Config) middleware.Retry {
	return middleware.Retry{
		MaxRetries:      cfg.Kafka.Retry.MaxAttempts,
		InitialInterval: cfg.Kafka.Retry.BackoffDelay,
		MaxInterval:     cfg.Kafka.Retry.BackoffDelay * 8,
		Multiplier:      2.0,
	}
}
