package registry

import (
	"log/slog"

	"github.com/webitel/im-mailbox-service/config"
	"github.com/webitel/im-mailbox-service/internal/domain/model"
	"github.com/webitel/im-mailbox-service/internal/domain/queue"
)

// SessionsFactory builds the session registry of a new mailbox. It keeps the
// hub independent of concrete queue and session implementations.
type SessionsFactory interface {
	New() (*SessionsRegistry, error)
}

// SessionsFactoryFunc adapts a function to SessionsFactory.
type SessionsFactoryFunc func() (*SessionsRegistry, error)

func (f SessionsFactoryFunc) New() (*SessionsRegistry, error) { return f() }

var _ SessionsFactory = (*ConfigSessionsFactory)(nil)

// ConfigSessionsFactory reads queue and session limits from the live config
// snapshot, so changes apply to sessions created after a reload.
type ConfigSessionsFactory struct {
	src    config.Source
	now    model.Clock
	logger *slog.Logger
}

func NewConfigSessionsFactory(src config.Source, clock model.Clock, logger *slog.Logger) *ConfigSessionsFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigSessionsFactory{src: src, now: clock.OrDefault(), logger: logger}
}

func (f *ConfigSessionsFactory) New() (*SessionsRegistry, error) {
	return NewSessionsRegistry(f.newQueue, f.settings, f.now)
}

func (f *ConfigSessionsFactory) settings() Settings {
	d := f.src.Current().Delivery
	return Settings{
		MaxSessions: d.MaxSessionsAmount,
		IdleTimeout: d.SessionIdleTimeout,
		PushTries:   d.PushTries,
	}
}

func (f *ConfigSessionsFactory) newQueue() queue.Queue {
	d := f.src.Current().Delivery
	build, err := queue.NewFactory(d.QueueKind, d.MaxQueueSize, f.now)
	if err != nil {
		// Validated configs never get here; keep serving with the default.
		f.logger.Error("[HUB] queue factory rejected config, using channel backend", slog.Any("err", err))
		return queue.NewChannelQueue(max(d.MaxQueueSize, 1), f.now)
	}
	return build()
}
