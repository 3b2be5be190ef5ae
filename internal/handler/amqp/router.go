package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/webitel/im-mailbox-service/config"
	"github.com/webitel/im-mailbox-service/internal/service"
)

const (
	HandlerMessageCreated = "ON_MSG_CREATED"

	// PoisonSuffix names the topic that receives messages which kept failing.
	PoisonSuffix = ".poison"

	handlerTimeout = 30 * time.Second
)

type MessageHandler struct {
	deliverer service.Deliverer
	logger    *slog.Logger
	wlogger   watermill.LoggerAdapter
	seen      *lru.Cache[string, struct{}]
	retry     config.BusRetryConfig
}

func NewMessageHandler(deliverer service.Deliverer, src config.Source, logger *slog.Logger, wlogger watermill.LoggerAdapter) (*MessageHandler, error) {
	bus := src.Current().Bus
	size := bus.DedupSize
	if size <= 0 {
		size = config.Default().Bus.DedupSize
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("amqp handler: dedup cache: %w", err)
	}
	return &MessageHandler{
		deliverer: deliverer,
		logger:    logger,
		wlogger:   wlogger,
		seen:      seen,
		retry:     bus.Retry,
	}, nil
}

// [REGISTRATION_PIPELINE]
func (h *MessageHandler) RegisterHandlers(router *message.Router, sub message.Subscriber, poisonPub message.Publisher, topic string) error {
	poison, err := middleware.PoisonQueue(poisonPub, topic+PoisonSuffix)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	configs := []struct {
		name    string
		topic   string
		handler message.NoPublishHandlerFunc
	}{
		{HandlerMessageCreated, topic, Bind(h.OnMessageCreatedV1)},
	}

	for _, c := range configs {
		// Poison wraps Retry, so only messages that exhausted retries are parked.
		router.AddConsumerHandler(c.name, c.topic, sub, c.handler).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(h.logger),
			poison,
			NewRetryMiddleware(h.retry, h.wlogger).Middleware,
			AttemptsMiddleware,
			middleware.NewThrottle(100, time.Second).Middleware,
			middleware.Timeout(handlerTimeout),
			middleware.Recoverer,
		)
	}

	h.logger.Info("AMQP_PIPELINE_READY", "topic", topic)
	return nil
}

// NodeQueue is a queue unique to this process. Mailboxes are node-local, so
// every node needs its own copy of each message.
// Format: im-mailbox.incoming.v1.b23a8f12
func NodeQueue(prefix string) string {
	return fmt.Sprintf("%s.%s", prefix, uuid.NewString()[:8])
}

// Run starts router and blocks until its handlers are subscribed or ctx ends.
func Run(ctx context.Context, router *message.Router, logger *slog.Logger) error {
	go func() {
		if err := router.Run(context.Background()); err != nil {
			logger.Error("AMQP_ROUTER_FAILED", "err", err)
		}
	}()

	select {
	case <-router.Running():
		return nil
	case <-ctx.Done():
		_ = router.Close()
		return fmt.Errorf("amqp router: start: %w", ctx.Err())
	}
}
