package registry

import (
	"log/slog"

	"github.com/webitel/im-mailbox-service/config"
	"github.com/webitel/im-mailbox-service/infra/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		fx.Annotate(
			func(src config.Source, logger *slog.Logger) *ConfigSessionsFactory {
				return NewConfigSessionsFactory(src, nil, logger)
			},
			fx.As(new(SessionsFactory)),
		),
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		func(src config.Source, sessions SessionsFactory, logger *slog.Logger, rec *metrics.Recorder) (*Hub, error) {
			return NewHub(sessions,
				WithShards(src.Current().Service.Shards),
				WithLogger(logger),
				WithObserver(rec),
			)
		},
		func(h *Hub) Hubber { return h },
	),
)
