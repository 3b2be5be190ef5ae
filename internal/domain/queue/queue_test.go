package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/im-mailbox-service/internal/domain/model"
)

func newMsg(t *testing.T, text string) *model.Message {
	t.Helper()
	p, err := model.NewMessagePayload("sender", text)
	require.NoError(t, err)
	return model.NewMessage(p, "recipient", time.Now())
}

func backends(t *testing.T, softMax int) map[string]Queue {
	t.Helper()
	out := make(map[string]Queue)
	for _, kind := range []string{KindChannel, KindRing} {
		f, err := NewFactory(kind, softMax, nil)
		require.NoError(t, err)
		out[kind] = f()
	}
	return out
}

func TestFactory(t *testing.T) {
	_, err := NewFactory("bogus", 10, nil)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = NewFactory(KindRing, 0, nil)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	f, err := NewFactory("", 10, nil)
	require.NoError(t, err)
	assert.IsType(t, &ChannelQueue{}, f())
}

func TestPushPopPreservesOrder(t *testing.T) {
	for kind, q := range backends(t, 16) {
		t.Run(kind, func(t *testing.T) {
			for i := range 5 {
				require.True(t, q.Push(newMsg(t, fmt.Sprintf("m%d", i)), 3))
			}
			assert.Equal(t, 5, q.SizeApproximate())

			batch, err := q.PopBatch(context.Background(), 10, time.Second)
			require.NoError(t, err)
			require.Len(t, batch, 5)
			for i, m := range batch {
				assert.Equal(t, fmt.Sprintf("m%d", i), m.Payload.Text)
				assert.False(t, m.Delivery.Enqueued.IsZero())
				assert.False(t, m.Delivery.Dequeued.IsZero())
			}
			assert.Equal(t, 0, q.SizeApproximate())
		})
	}
}

func TestPopBatchLimits(t *testing.T) {
	for kind, q := range backends(t, 16) {
		t.Run(kind, func(t *testing.T) {
			for i := range 4 {
				require.True(t, q.Push(newMsg(t, fmt.Sprintf("m%d", i)), 1))
			}

			// Zero is treated as one.
			batch, err := q.PopBatch(context.Background(), 0, time.Second)
			require.NoError(t, err)
			require.Len(t, batch, 1)
			assert.Equal(t, "m0", batch[0].Payload.Text)

			batch, err = q.PopBatch(context.Background(), 2, time.Second)
			require.NoError(t, err)
			require.Len(t, batch, 2)
			assert.Equal(t, "m1", batch[0].Payload.Text)
			assert.Equal(t, "m2", batch[1].Payload.Text)
		})
	}
}

func TestPushDropsWhenFull(t *testing.T) {
	for kind, q := range backends(t, 2) {
		t.Run(kind, func(t *testing.T) {
			assert.True(t, q.Push(newMsg(t, "a"), 3))
			assert.True(t, q.Push(newMsg(t, "b"), 3))
			assert.False(t, q.Push(newMsg(t, "c"), 3))
			assert.Equal(t, 2, q.SizeApproximate())
		})
	}
}

func TestPopBatchTimesOut(t *testing.T) {
	for kind, q := range backends(t, 4) {
		t.Run(kind, func(t *testing.T) {
			start := time.Now()
			batch, err := q.PopBatch(context.Background(), 10, 30*time.Millisecond)
			require.NoError(t, err)
			assert.Empty(t, batch)
			assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
		})
	}
}

func TestPopBatchWakesOnPush(t *testing.T) {
	for kind, q := range backends(t, 4) {
		t.Run(kind, func(t *testing.T) {
			go func() {
				time.Sleep(20 * time.Millisecond)
				q.Push(newMsg(t, "late"), 1)
			}()

			batch, err := q.PopBatch(context.Background(), 10, 5*time.Second)
			require.NoError(t, err)
			require.Len(t, batch, 1)
			assert.Equal(t, "late", batch[0].Payload.Text)
		})
	}
}

func TestSecondConsumerFails(t *testing.T) {
	for kind, q := range backends(t, 4) {
		t.Run(kind, func(t *testing.T) {
			done := make(chan struct{})
			go func() {
				defer close(done)
				// Retry until this goroutine owns the consumer slot; the check
				// below may hold it for an instant.
				for {
					_, err := q.PopBatch(context.Background(), 1, 300*time.Millisecond)
					if !errors.Is(err, model.ErrConsumerBusy) {
						return
					}
				}
			}()

			require.Eventually(t, func() bool {
				_, err := q.PopBatch(context.Background(), 1, 0)
				return errors.Is(err, model.ErrConsumerBusy)
			}, time.Second, time.Millisecond)

			<-done

			// The flag is released once the first consumer returns.
			_, err := q.PopBatch(context.Background(), 1, 0)
			assert.NoError(t, err)
		})
	}
}

func TestPopBatchHonorsContext(t *testing.T) {
	for kind, q := range backends(t, 4) {
		t.Run(kind, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				time.Sleep(10 * time.Millisecond)
				cancel()
			}()

			batch, err := q.PopBatch(ctx, 1, 5*time.Second)
			assert.ErrorIs(t, err, context.Canceled)
			assert.Empty(t, batch)
		})
	}
}
