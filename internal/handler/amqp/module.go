package amqp

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-mailbox-service/config"
	pubsubadapter "github.com/webitel/im-mailbox-service/internal/adapter/pubsub"
	"go.uber.org/fx"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		pubsubadapter.NewProvider,
		NewMessageHandler,
	),

	fx.Invoke(RegisterLifecycle),
)

// RegisterLifecycle connects to the broker on start when bus.enabled is set.
func RegisterLifecycle(lc fx.Lifecycle, src config.Source, h *MessageHandler, provider *pubsubadapter.Provider, logger *slog.Logger, wlogger watermill.LoggerAdapter) {
	cfg := src.Current().Bus
	if !cfg.Enabled {
		logger.Info("AMQP_INGRESS_DISABLED")
		return
	}

	var (
		router *message.Router
		pub    message.Publisher
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sub, err := provider.Subscriber(NodeQueue(cfg.Queue))
			if err != nil {
				return err
			}
			if pub, err = provider.Publisher(); err != nil {
				return errors.Join(err, sub.Close())
			}

			router, err = message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, wlogger)
			if err != nil {
				return errors.Join(err, sub.Close(), pub.Close())
			}
			if err := h.RegisterHandlers(router, sub, pub, cfg.Topic); err != nil {
				return errors.Join(err, sub.Close(), pub.Close())
			}
			return Run(ctx, router, logger)
		},
		OnStop: func(context.Context) error {
			if router == nil {
				return nil
			}
			// The router closes its subscribers.
			return errors.Join(router.Close(), pub.Close())
		},
	})
}
