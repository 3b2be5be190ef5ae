package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "IM"

var _ Source = (*Provider)(nil)

// Provider loads the configuration with viper and keeps the live snapshot.
// Precedence: flags > env (IM_*) > file > defaults.
type Provider struct {
	v       *viper.Viper
	current atomic.Pointer[Config]
}

// Flags declares the overridable keys. Names match the config keys.
func Flags() *pflag.FlagSet {
	d := Default()
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.String("service.address", d.Service.Address, "HTTP listen address")
	fs.String("service.log_level", d.Service.LogLevel, "log level (debug, info, warn, error)")
	fs.Int("service.shards", d.Service.Shards, "registry shard count (power of two)")
	fs.Int("delivery.max_queue_size", d.Delivery.MaxQueueSize, "per-session queue soft max")
	fs.String("delivery.queue_kind", d.Delivery.QueueKind, "queue backend (channel, ring)")
	fs.Int("delivery.max_sessions_amount", d.Delivery.MaxSessionsAmount, "sessions per user")
	fs.Bool("rate_limiter.enabled", d.RateLimiter.Enabled, "enable per-sender rate limiting")
	fs.Bool("gc.enabled", d.GC.Enabled, "enable the idle sweep")
	fs.Bool("bus.enabled", d.Bus.Enabled, "consume message events from AMQP")
	return fs
}

// NewProvider reads file (optional) and the environment, applies flags
// (optional, already parsed) and validates the result.
func NewProvider(file string, flags *pflag.FlagSet) (*Provider, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	p := &Provider{v: v}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) Current() *Config { return p.current.Load() }

// Reload re-reads viper's state into a new snapshot. The previous snapshot
// stays in place when the new one does not validate.
func (p *Provider) Reload() error {
	cfg := &Config{}
	if err := p.v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	p.current.Store(cfg)
	return nil
}

// Watch enables [HOT_RELOAD] of the config file. No-op without a file.
func (p *Provider) Watch(logger *slog.Logger) {
	if p.v.ConfigFileUsed() == "" {
		return
	}

	p.v.OnConfigChange(func(e fsnotify.Event) {
		if err := p.Reload(); err != nil {
			logger.Error("[CONFIG] reload rejected, keeping previous snapshot",
				slog.String("file", e.Name),
				slog.Any("err", err),
			)
			return
		}
		logger.Info("[CONFIG] reloaded", slog.String("file", e.Name), slog.String("op", e.Op.String()))
	})
	p.v.WatchConfig()
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("service.address", d.Service.Address)
	v.SetDefault("service.log_level", d.Service.LogLevel)
	v.SetDefault("service.shards", d.Service.Shards)

	v.SetDefault("delivery.max_queue_size", d.Delivery.MaxQueueSize)
	v.SetDefault("delivery.queue_kind", d.Delivery.QueueKind)
	v.SetDefault("delivery.push_tries", d.Delivery.PushTries)
	v.SetDefault("delivery.session_idle_timeout", d.Delivery.SessionIdleTimeout)
	v.SetDefault("delivery.max_sessions_amount", d.Delivery.MaxSessionsAmount)
	v.SetDefault("delivery.poll_max_batch", d.Delivery.PollMaxBatch)
	v.SetDefault("delivery.poll_timeout", d.Delivery.PollTimeout)
	v.SetDefault("delivery.max_poll_timeout", d.Delivery.MaxPollTimeout)

	v.SetDefault("rate_limiter.kind", d.RateLimiter.Kind)
	v.SetDefault("rate_limiter.enabled", d.RateLimiter.Enabled)
	v.SetDefault("rate_limiter.refill_amount", d.RateLimiter.RefillAmount)
	v.SetDefault("rate_limiter.max_rps", d.RateLimiter.MaxRps)
	v.SetDefault("rate_limiter.idle_timeout", d.RateLimiter.IdleTimeout)

	v.SetDefault("gc.enabled", d.GC.Enabled)
	v.SetDefault("gc.period", d.GC.Period)
	v.SetDefault("gc.inter_shard_pause", d.GC.InterShardPause)

	v.SetDefault("bus.enabled", d.Bus.Enabled)
	v.SetDefault("bus.url", d.Bus.URL)
	v.SetDefault("bus.exchange", d.Bus.Exchange)
	v.SetDefault("bus.topic", d.Bus.Topic)
	v.SetDefault("bus.queue", d.Bus.Queue)
	v.SetDefault("bus.dedup_size", d.Bus.DedupSize)
	v.SetDefault("bus.retry.max_retries", d.Bus.Retry.MaxRetries)
	v.SetDefault("bus.retry.initial_interval", d.Bus.Retry.InitialInterval)
	v.SetDefault("bus.retry.max_interval", d.Bus.Retry.MaxInterval)
}
