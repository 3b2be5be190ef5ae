package limiter

import (
	"log/slog"

	"github.com/webitel/im-mailbox-service/config"
	"github.com/webitel/im-mailbox-service/infra/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("limiter",
	fx.Provide(
		func(src config.Source, logger *slog.Logger, rec *metrics.Recorder) (Limiter, error) {
			return New(src, WithLogger(logger), WithObserver(rec))
		},
	),
)
