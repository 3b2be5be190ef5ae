package registry

import (
	"log/slog"

	"github.com/webitel/im-mailbox-service/internal/domain/model"
)

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithShards sets the number of directory shards. Must be a power of two.
func WithShards(n int) Option {
	return func(h *Hub) {
		h.config.shards = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.config.logger = logger
		}
	}
}

// WithObserver receives per-sweep statistics ([METRICS_HOOK]).
func WithObserver(o Observer) Option {
	return func(h *Hub) {
		if o != nil {
			h.config.observer = o
		}
	}
}

// WithClock replaces time.Now for sweep reference times.
func WithClock(clock model.Clock) Option {
	return func(h *Hub) {
		h.config.now = clock.OrDefault()
	}
}
