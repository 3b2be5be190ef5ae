package amqp

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-mailbox-service/config"
	"github.com/webitel/im-mailbox-service/internal/domain/limiter"
	"github.com/webitel/im-mailbox-service/internal/domain/model"
	"github.com/webitel/im-mailbox-service/internal/domain/registry"
	"github.com/webitel/im-mailbox-service/internal/service"
	"github.com/webitel/im-mailbox-service/internal/service/dto"
)

const testTopic = "im_message.message.created.v1"

type testEnv struct {
	bus *gochannel.GoChannel
	svc service.Deliverer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Service.Shards = 16
	cfg.Bus.DedupSize = 16
	src := config.NewStatic(cfg)

	hub, err := registry.NewHub(registry.NewConfigSessionsFactory(src, nil, nil), registry.WithShards(16))
	require.NoError(t, err)
	lim, err := limiter.NewSendLimiter(src)
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	wlogger := watermill.NopLogger{}
	svc := service.NewDeliveryService(hub, lim, src, nil, logger)

	h, err := NewMessageHandler(svc, src, logger, wlogger)
	require.NoError(t, err)

	bus := gochannel.NewGoChannel(gochannel.Config{}, wlogger)
	router, err := message.NewRouter(message.RouterConfig{}, wlogger)
	require.NoError(t, err)
	require.NoError(t, h.RegisterHandlers(router, bus, bus, testTopic))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, Run(ctx, router, logger))
	t.Cleanup(func() {
		_ = router.Close()
		_ = bus.Close()
	})

	return &testEnv{bus: bus, svc: svc}
}

func (e *testEnv) publish(t *testing.T, payload any) {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, e.bus.Publish(testTopic, message.NewMessage(watermill.NewUUID(), data)))
}

func (e *testEnv) poll(t *testing.T, user model.UserID, session model.SessionID, timeout time.Duration) model.Batch {
	t.Helper()

	batch, err := e.svc.Poll(context.Background(), user, session, 10, timeout)
	require.NoError(t, err)
	return batch
}

func TestDeliversBusMessages(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.StartSession(context.Background(), "bob", "tab")
	require.NoError(t, err)

	id := uuid.New()
	env.publish(t, dto.MessageV1{
		MessageID:  id.String(),
		SenderID:   "alice",
		Recipients: []string{"bob", "carol"},
		Text:       "from the bus",
	})

	batch := env.poll(t, "bob", "tab", 5*time.Second)
	require.Len(t, batch.Messages, 1)
	assert.Equal(t, id, batch.Messages[0].ID)
	assert.Equal(t, "from the bus", batch.Messages[0].Payload.Text)
}

func TestSkipsDuplicatesAndPoison(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.StartSession(context.Background(), "bob", "tab")
	require.NoError(t, err)

	msg := dto.MessageV1{
		MessageID:  uuid.NewString(),
		SenderID:   "alice",
		Recipients: []string{"bob"},
		Text:       "once",
	}
	env.publish(t, msg)
	env.publish(t, msg)
	env.publish(t, "not a message")
	env.publish(t, dto.MessageV1{MessageID: "bad-id", SenderID: "alice", Recipients: []string{"bob"}, Text: "x"})

	last := dto.MessageV1{
		MessageID:  uuid.NewString(),
		SenderID:   "alice",
		Recipients: []string{"bob"},
		Text:       "last",
	}
	env.publish(t, last)

	var texts []string
	assert.Eventually(t, func() bool {
		for _, m := range env.poll(t, "bob", "tab", 50*time.Millisecond).Messages {
			texts = append(texts, m.Payload.Text)
		}
		return len(texts) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	// Anything after "last" would already be in the queue.
	assert.Empty(t, env.poll(t, "bob", "tab", 50*time.Millisecond).Messages)
	assert.Equal(t, []string{"once", "last"}, texts)
}

func TestTraceIDMiddleware(t *testing.T) {
	var got string
	h := TraceIDMiddleware(func(msg *message.Message) ([]*message.Message, error) {
		got = TraceIDFromContext(msg.Context())
		return nil, nil
	})

	msg := message.NewMessage(watermill.NewUUID(), nil)
	_, err := h(msg)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.Equal(t, got, msg.Metadata.Get(traceIDMetadataKey))

	msg = message.NewMessage(watermill.NewUUID(), nil)
	msg.Metadata.Set(traceIDMetadataKey, "abc")
	_, err = h(msg)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
}
