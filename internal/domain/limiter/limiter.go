// Package limiter enforces per-sender send rates.
package limiter

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/webitel/im-mailbox-service/config"
	"github.com/webitel/im-mailbox-service/internal/domain/model"
	"github.com/webitel/im-mailbox-service/internal/domain/shardmap"
	"golang.org/x/time/rate"
)

const (
	KindTokenBucket = "token_bucket"
	KindNoop        = "noop"
)

// Limiter decides whether a sender may send right now.
type Limiter interface {
	TryAcquire(userID model.UserID) bool
	// TraverseLimiters reclaims idle buckets and returns how many were removed.
	TraverseLimiters() int
	GetTotalLimiters() int
	Clear()
}

// Observer receives sweep statistics.
type Observer interface {
	BucketKept(tokens float64)
	LimitersEvicted(n int)
}

// New builds the limiter selected by rate_limiter.kind.
func New(src config.Source, opts ...Option) (Limiter, error) {
	switch kind := src.Current().RateLimiter.Kind; kind {
	case KindTokenBucket, "":
		return NewSendLimiter(src, opts...)
	case KindNoop:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("limiter: unknown kind %q: %w", kind, model.ErrInvalidArgument)
	}
}

// [LIMITER_WRAPPER] A token bucket plus its last access time.
type bucket struct {
	limiter    *rate.Limiter
	lastAccess atomic.Int64
}

func (b *bucket) LastAccess() time.Time { return time.Unix(0, b.lastAccess.Load()) }

var _ Limiter = (*SendLimiter)(nil)

// SendLimiter keeps one lazily created token bucket per sender in a sharded
// map. Bucket capacity is MaxRps; RefillAmount tokens are added per second.
type SendLimiter struct {
	buckets *shardmap.Map[model.UserID, *bucket]
	src     config.Source
	config  limiterConfig
}

type limiterConfig struct {
	shards   int
	now      model.Clock
	logger   *slog.Logger
	observer Observer
}

func NewSendLimiter(src config.Source, opts ...Option) (*SendLimiter, error) {
	if src == nil {
		return nil, fmt.Errorf("limiter: nil config source: %w", model.ErrInvalidArgument)
	}

	l := &SendLimiter{
		src: src,
		config: limiterConfig{
			shards:   src.Current().Service.Shards,
			now:      time.Now,
			logger:   slog.Default(),
			observer: nopObserver{},
		},
	}
	for _, opt := range opts {
		opt(l)
	}

	m, err := shardmap.New[model.UserID, *bucket](l.config.shards)
	if err != nil {
		return nil, fmt.Errorf("limiter: %w", err)
	}
	l.buckets = m
	return l, nil
}

// TryAcquire takes one token from the sender's bucket.
func (l *SendLimiter) TryAcquire(userID model.UserID) bool {
	cfg := l.src.Current().RateLimiter
	if !cfg.Enabled {
		return true
	}

	now := l.config.now()
	limit := rate.Limit(cfg.RefillAmount)

	b, created := l.buckets.GetOrCreate(userID, func() *bucket {
		return &bucket{limiter: rate.NewLimiter(limit, cfg.MaxRps)}
	})
	b.lastAccess.Store(now.UnixNano())

	// [LIVE_CONFIG] Existing buckets follow reloaded limits.
	if !created {
		if b.limiter.Limit() != limit {
			b.limiter.SetLimitAt(now, limit)
		}
		if b.limiter.Burst() != cfg.MaxRps {
			b.limiter.SetBurstAt(now, cfg.MaxRps)
		}
	}

	return b.limiter.AllowN(now, 1)
}

// TraverseLimiters removes buckets idle longer than rate_limiter.idle_timeout.
// Available tokens of kept buckets are reported to the observer.
func (l *SendLimiter) TraverseLimiters() int {
	idle := l.src.Current().RateLimiter.IdleTimeout
	now := l.config.now()

	var kept int
	var tokens float64
	removed := l.buckets.CleanupAndCount(
		func(_ model.UserID, b *bucket) bool { return now.Sub(b.LastAccess()) > idle },
		func(_ model.UserID, b *bucket) {
			t := b.limiter.TokensAt(now)
			kept++
			tokens += t
			l.config.observer.BucketKept(t)
		},
		0,
	)

	if removed > 0 {
		l.config.observer.LimitersEvicted(removed)
	}
	l.config.logger.Debug("[LIMITER] sweep completed",
		slog.Int("removed", removed),
		slog.Int("kept", kept),
		slog.Float64("available_tokens", tokens),
	)
	return removed
}

func (l *SendLimiter) GetTotalLimiters() int { return l.buckets.Len() }

func (l *SendLimiter) Clear() { l.buckets.Clear() }

type nopObserver struct{}

func (nopObserver) BucketKept(float64) {}
func (nopObserver) LimitersEvicted(int) {}
