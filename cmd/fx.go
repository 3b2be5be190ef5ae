package cmd

import (
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/webitel/im-mailbox-service/config"
	"github.com/webitel/im-mailbox-service/infra/metrics"
	httpsrv "github.com/webitel/im-mailbox-service/infra/server/http"
	"github.com/webitel/im-mailbox-service/internal/domain/limiter"
	"github.com/webitel/im-mailbox-service/internal/domain/registry"
	amqpdi "github.com/webitel/im-mailbox-service/internal/handler/amqp"
	"github.com/webitel/im-mailbox-service/internal/handler/lp"
	"github.com/webitel/im-mailbox-service/internal/handler/ws"
	"github.com/webitel/im-mailbox-service/internal/service"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func NewApp(provider *config.Provider) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Provider { return provider },
			func(p *config.Provider) config.Source { return p },
			ProvideLogger,
			ProvideWatermillLogger,
			metrics.NewGlobal,
		),
		// [DECORATION_LAYER] Root scope, so sibling handler modules get it too
		fx.Decorate(service.NewDelivererMiddleware),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l}
		}),
		fx.Invoke(
			func(p *config.Provider, l *slog.Logger) { p.Watch(l) },
			func(rec *metrics.Recorder, hub registry.Hubber) error {
				return rec.ObserveOnline(hub.GetOnlineAmount)
			},
		),
		registry.Module,
		limiter.Module,
		service.Module,
		httpsrv.Module,
		lp.Module,
		ws.Module,
		amqpdi.Module,
	)
}

// ProvideLogger builds the JSON process logger at the configured level.
func ProvideLogger(src config.Source) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(src.Current().Service.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", ServiceName, "version", version)
	slog.SetDefault(logger)
	return logger
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}
