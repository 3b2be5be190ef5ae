package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-mailbox-service/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

type recordingObserver struct {
	kept    int
	evicted int
}

func (o *recordingObserver) MailboxKept(int, int)    { o.kept++ }
func (o *recordingObserver) MailboxesEvicted(n int) { o.evicted += n }

func TestNewHubRejectsBadShards(t *testing.T) {
	_, err := NewHub(SessionsFactoryFunc(func() (*SessionsRegistry, error) { return nil, nil }), WithShards(3))
	assert.Error(t, err)

	_, err = NewHub(nil)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestCreateOrGetMailboxIsIdempotent(t *testing.T) {
	h := newTestHub(t, defaultTestSettings(), nil)

	a, err := h.CreateOrGetMailbox("u1")
	require.NoError(t, err)
	b, err := h.CreateOrGetMailbox("u1")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, int64(1), h.GetOnlineAmount())

	_, err = h.CreateOrGetMailbox("u2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), h.GetOnlineAmount())

	_, err = h.CreateOrGetMailbox("")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestConcurrentCreateOrGetCountsOnce(t *testing.T) {
	h := newTestHub(t, defaultTestSettings(), nil)

	var g errgroup.Group
	for i := range 200 {
		g.Go(func() error {
			_, err := h.CreateOrGetMailbox(model.UserID(fmt.Sprintf("u%d", i%10)))
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(10), h.GetOnlineAmount())
}

func TestCreateOrGetMailboxFactoryError(t *testing.T) {
	boom := fmt.Errorf("boom")
	h, err := NewHub(SessionsFactoryFunc(func() (*SessionsRegistry, error) { return nil, boom }))
	require.NoError(t, err)

	_, err = h.CreateOrGetMailbox("u1")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), h.GetOnlineAmount())
	_, ok := h.GetMailbox("u1")
	assert.False(t, ok)
}

func TestRemoveMailbox(t *testing.T) {
	h := newTestHub(t, defaultTestSettings(), nil)
	_, err := h.CreateOrGetMailbox("u1")
	require.NoError(t, err)

	assert.True(t, h.RemoveMailbox("u1"))
	assert.False(t, h.RemoveMailbox("u1"))
	assert.Equal(t, int64(0), h.GetOnlineAmount())

	_, ok := h.GetMailbox("u1")
	assert.False(t, ok)
}

func TestTraverseRegistry(t *testing.T) {
	clk := newFakeClock()
	obs := &recordingObserver{}
	h, err := NewHub(SessionsFactoryFunc(func() (*SessionsRegistry, error) {
		return newTestSessions(t, defaultTestSettings(), clk.Now), nil
	}), WithShards(16), WithClock(clk.Now), WithObserver(obs))
	require.NoError(t, err)

	idle, err := h.CreateOrGetMailbox("idle")
	require.NoError(t, err)
	require.NoError(t, idle.CreateSession("s1"))

	busy, err := h.CreateOrGetMailbox("busy")
	require.NoError(t, err)
	require.NoError(t, busy.CreateSession("s1"))

	_, err = h.CreateOrGetMailbox("empty")
	require.NoError(t, err)

	clk.Advance(90 * time.Second)
	_, err = busy.PollMessages(context.Background(), "s1", 1, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, h.TraverseRegistry(0))
	assert.Equal(t, int64(1), h.GetOnlineAmount())
	assert.Equal(t, 1, obs.kept)
	assert.Equal(t, 2, obs.evicted)

	_, ok := h.GetMailbox("busy")
	assert.True(t, ok)
	_, ok = h.GetMailbox("idle")
	assert.False(t, ok)
}

func TestTraverseRegistryReclaimsSessionlessMailboxUnderTraffic(t *testing.T) {
	clk := newFakeClock()
	h := newTestHub(t, defaultTestSettings(), clk.Now)

	mb, err := h.CreateOrGetMailbox("u1")
	require.NoError(t, err)
	require.NoError(t, mb.CreateSession("s1"))
	require.True(t, mb.RemoveSession("s1"))

	clk.Advance(30 * time.Second)
	_ = mb.SendMessage(newTestMessage(t, "ping", "u1"))

	assert.Equal(t, 1, h.TraverseRegistry(0))
	assert.Equal(t, int64(0), h.GetOnlineAmount())
	_, ok := h.GetMailbox("u1")
	assert.False(t, ok)

	// A fresh lookup recreates it and counts it online again.
	_, err = h.CreateOrGetMailbox("u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.GetOnlineAmount())
}

func TestClear(t *testing.T) {
	h := newTestHub(t, defaultTestSettings(), nil)
	for i := range 5 {
		_, err := h.CreateOrGetMailbox(model.UserID(fmt.Sprintf("u%d", i)))
		require.NoError(t, err)
	}

	h.Clear()
	assert.Equal(t, int64(0), h.GetOnlineAmount())
	_, ok := h.GetMailbox("u0")
	assert.False(t, ok)
}

func TestExampleScenario(t *testing.T) {
	h := newTestHub(t, defaultTestSettings(), nil)

	mb, err := h.CreateOrGetMailbox("u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.GetOnlineAmount())

	for i := 1; i <= 5; i++ {
		_, err := mb.GetOrCreateSession(model.SessionID(fmt.Sprintf("s%d", i)))
		require.NoError(t, err)
	}
	_, err = mb.GetOrCreateSession("s6")
	require.ErrorIs(t, err, model.ErrSessionLimitExceeded)

	got, ok := h.GetMailbox("u1")
	require.True(t, ok)
	require.True(t, got.SendMessage(newTestMessage(t, "hello", "u1")))

	for i := 1; i <= 5; i++ {
		batch, err := mb.PollMessages(context.Background(), model.SessionID(fmt.Sprintf("s%d", i)), 10, time.Second)
		require.NoError(t, err)
		require.Len(t, batch.Messages, 1)
		assert.Equal(t, "hello", batch.Messages[0].Payload.Text)
		assert.False(t, batch.ResyncRequired)
	}
}
