package amqp

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"
	"github.com/webitel/im-mailbox-service/config"
	"github.com/webitel/im-mailbox-service/internal/domain/router"
)

const traceIDMetadataKey = "trace_id"

type traceIDKey struct{}

// [TRACE_ID_MIDDLEWARE]
// Ensures TraceID persistence through the call chain.
func TraceIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		traceID := msg.Metadata.Get(traceIDMetadataKey)
		if traceID == "" {
			traceID = uuid.NewString()
			msg.Metadata.Set(traceIDMetadataKey, traceID)
		}

		msg.SetContext(context.WithValue(msg.Context(), traceIDKey{}, traceID))
		return h(msg)
	}
}

func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// Outcome is how the pipeline settled one bus message.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeFailed    Outcome = "failed"
)

// handling accumulates what happened to one bus message across its retry
// attempts. Handlers run sequentially per message, so no locking.
type handling struct {
	messageID string
	outcome   Outcome
	reason    error
	attempts  int
	result    router.Result
}

type handlingKey struct{}

// handlingFrom never returns nil so handlers can record unconditionally,
// including when invoked outside the router in tests.
func handlingFrom(ctx context.Context) *handling {
	if h, ok := ctx.Value(handlingKey{}).(*handling); ok {
		return h
	}
	return &handling{}
}

func settle(ctx context.Context, messageID string, o Outcome, reason error) *handling {
	h := handlingFrom(ctx)
	if messageID != "" {
		h.messageID = messageID
	}
	h.outcome, h.reason = o, reason
	return h
}

// [LOGGING_MIDDLEWARE]
// One line per bus message once retries are over: outcome, attempts, route
// counts and latency. Rejected and failed messages log at WARN.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			rep := &handling{}
			msg.SetContext(context.WithValue(msg.Context(), handlingKey{}, rep))

			msgs, err := h(msg)
			if err != nil {
				rep.outcome, rep.reason = OutcomeFailed, err
			}

			attrs := []any{
				"msg_id", msg.UUID,
				"message_id", rep.messageID,
				"trace_id", msg.Metadata.Get(traceIDMetadataKey),
				"outcome", rep.outcome,
				"attempts", rep.attempts,
				"duration_ms", time.Since(start).Milliseconds(),
			}

			switch rep.outcome {
			case OutcomeDelivered:
				logger.Debug("BUS_MESSAGE_HANDLED", append(attrs,
					"successful", rep.result.Successful,
					"dropped", rep.result.Dropped,
					"offline", rep.result.Offline,
				)...)
			case OutcomeDuplicate:
				logger.Debug("BUS_MESSAGE_HANDLED", attrs...)
			case OutcomeInvalid:
				logger.Warn("BUS_MESSAGE_REJECTED", append(attrs, "err", rep.reason)...)
			default:
				logger.Warn("BUS_MESSAGE_FAILED", append(attrs, "err", rep.reason)...)
			}
			return msgs, err
		}
	}
}

// [ATTEMPTS_MIDDLEWARE]
// Sits inside Retry so every delivery attempt is counted.
func AttemptsMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		handlingFrom(msg.Context()).attempts++
		return h(msg)
	}
}

// [RETRY_MIDDLEWARE]
// Only transient delivery errors reach Retry: undecodable or invalid payloads
// and duplicates are acknowledged by the handler itself, and a failed
// message_id is released from the dedup window so the retry is not skipped.
func NewRetryMiddleware(cfg config.BusRetryConfig, logger watermill.LoggerAdapter) middleware.Retry {
	return middleware.Retry{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		Multiplier:      2.0,
		Logger:          logger,
	}
}
