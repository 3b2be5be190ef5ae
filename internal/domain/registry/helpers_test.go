package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/webitel/im-mailbox-service/internal/domain/model"
	"github.com/webitel/im-mailbox-service/internal/domain/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
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

type testSettings struct {
	softMax     int
	maxSessions int
	idle        time.Duration
}

func defaultTestSettings() testSettings {
	return testSettings{softMax: 16, maxSessions: 5, idle: time.Minute}
}

func newTestSessions(t *testing.T, st testSettings, clock model.Clock) *SessionsRegistry {
	t.Helper()
	nq, err := queue.NewFactory(queue.KindChannel, st.softMax, clock)
	require.NoError(t, err)

	r, err := NewSessionsRegistry(nq, func() Settings {
		return Settings{MaxSessions: st.maxSessions, IdleTimeout: st.idle, PushTries: 3}
	}, clock)
	require.NoError(t, err)
	return r
}

func newTestHub(t *testing.T, st testSettings, clock model.Clock) *Hub {
	t.Helper()
	h, err := NewHub(SessionsFactoryFunc(func() (*SessionsRegistry, error) {
		return newTestSessions(t, st, clock), nil
	}), WithShards(256), WithClock(clock))
	require.NoError(t, err)
	return h
}

func newTestMessage(t *testing.T, text string, recipient model.UserID) *model.Message {
	t.Helper()
	p, err := model.NewMessagePayload("sender", text)
	require.NoError(t, err)
	return model.NewMessage(p, recipient, time.Now())
}
