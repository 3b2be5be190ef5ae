package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-mailbox-service/internal/domain/model"
	"github.com/webitel/im-mailbox-service/internal/domain/queue"
	"github.com/webitel/im-mailbox-service/internal/domain/registry"
)

func newHub(t *testing.T, softMax int) *registry.Hub {
	t.Helper()
	h, err := registry.NewHub(registry.SessionsFactoryFunc(func() (*registry.SessionsRegistry, error) {
		nq, err := queue.NewFactory(queue.KindChannel, softMax, nil)
		if err != nil {
			return nil, err
		}
		return registry.NewSessionsRegistry(nq, func() registry.Settings {
			return registry.Settings{MaxSessions: 5, IdleTimeout: time.Minute, PushTries: 1}
		}, nil)
	}), registry.WithShards(16))
	require.NoError(t, err)
	return h
}

func newMessage(t *testing.T, text string) *model.Message {
	t.Helper()
	p, err := model.NewMessagePayload("sender", text)
	require.NoError(t, err)
	return model.NewMessage(p, "", time.Now())
}

func TestRouteOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		recipients []model.UserID
	}{
		{name: "success drop offline", recipients: []model.UserID{"ok", "full", "gone"}},
		{name: "offline first", recipients: []model.UserID{"gone", "ok", "full"}},
		{name: "drop first", recipients: []model.UserID{"full", "gone", "ok"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHub(t, 1)

			ok, err := h.CreateOrGetMailbox("ok")
			require.NoError(t, err)
			require.NoError(t, ok.CreateSession("s1"))

			full, err := h.CreateOrGetMailbox("full")
			require.NoError(t, err)
			require.NoError(t, full.CreateSession("s1"))
			require.True(t, full.SendMessage(newMessage(t, "filler")))

			res := New(h).Route(tt.recipients, newMessage(t, "hello"))
			assert.Equal(t, Result{Successful: 1, Dropped: 1, Offline: 1}, res)
			assert.Equal(t, 3, res.Total())
		})
	}
}

func TestRouteSetsRecipient(t *testing.T) {
	h := newHub(t, 8)
	for _, id := range []model.UserID{"u1", "u2"} {
		mb, err := h.CreateOrGetMailbox(id)
		require.NoError(t, err)
		require.NoError(t, mb.CreateSession("s1"))
	}

	msg := newMessage(t, "hello")
	res := New(h).Route([]model.UserID{"u1", "u2"}, msg)
	require.Equal(t, 2, res.Successful)

	for _, id := range []model.UserID{"u1", "u2"} {
		mb, ok := h.GetMailbox(id)
		require.True(t, ok)
		batch, err := mb.PollMessages(context.Background(), "s1", 10, time.Second)
		require.NoError(t, err)
		require.Len(t, batch.Messages, 1)

		got := batch.Messages[0]
		assert.Equal(t, id, got.RecipientID)
		assert.Equal(t, msg.ID, got.ID)
		assert.Same(t, msg.Payload, got.Payload)
		assert.NotSame(t, msg, got)
	}
	assert.Empty(t, msg.RecipientID)
}

func TestRouteNoRecipients(t *testing.T) {
	res := New(newHub(t, 8)).Route(nil, newMessage(t, "hello"))
	assert.Zero(t, res.Total())
}
