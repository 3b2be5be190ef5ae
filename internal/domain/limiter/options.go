package limiter

import (
	"log/slog"

	"github.com/webitel/im-mailbox-service/internal/domain/model"
)

// Option configures a SendLimiter.
type Option func(*SendLimiter)

func WithShards(n int) Option {
	return func(l *SendLimiter) { l.config.shards = n }
}

func WithClock(clock model.Clock) Option {
	return func(l *SendLimiter) { l.config.now = clock.OrDefault() }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *SendLimiter) {
		if logger != nil {
			l.config.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(l *SendLimiter) {
		if o != nil {
			l.config.observer = o
		}
	}
}
