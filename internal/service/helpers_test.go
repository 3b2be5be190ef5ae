package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/webitel/im-mailbox-service/config"
	"github.com/webitel/im-mailbox-service/internal/domain/limiter"
	"github.com/webitel/im-mailbox-service/internal/domain/registry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testStack struct {
	svc *DeliveryService
	hub *registry.Hub
	lim *limiter.SendLimiter
	src *config.Static
	clk *fakeClock
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Service.Shards = 16
	cfg.Delivery.MaxQueueSize = 16
	cfg.Delivery.PollTimeout = 200 * time.Millisecond
	cfg.Delivery.MaxPollTimeout = time.Second
	cfg.Delivery.SessionIdleTimeout = 2 * time.Minute
	cfg.RateLimiter.MaxRps = 100
	cfg.RateLimiter.RefillAmount = 100
	return cfg
}

func newTestStack(t *testing.T, mutate func(*config.Config)) *testStack {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	src := config.NewStatic(cfg)
	clk := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}

	hub, err := registry.NewHub(
		registry.NewConfigSessionsFactory(src, clk.Now, nil),
		registry.WithShards(cfg.Service.Shards),
		registry.WithClock(clk.Now),
	)
	require.NoError(t, err)

	lim, err := limiter.NewSendLimiter(src, limiter.WithClock(clk.Now))
	require.NoError(t, err)

	svc := NewDeliveryService(hub, lim, src, nil, nil).WithClock(clk.Now)
	return &testStack{svc: svc, hub: hub, lim: lim, src: src, clk: clk}
}
