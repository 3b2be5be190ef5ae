package queue

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/webitel/im-mailbox-service/internal/domain/model"
)

var _ Queue = (*ChannelQueue)(nil)

// ChannelQueue is backed by a buffered channel whose capacity is the soft max.
type ChannelQueue struct {
	ch  chan *model.Message
	now model.Clock

	// [SINGLE_CONSUMER] Held for the whole duration of PopBatch.
	consumer atomic.Bool
}

func NewChannelQueue(softMax int, clock model.Clock) *ChannelQueue {
	return &ChannelQueue{
		ch:  make(chan *model.Message, softMax),
		now: clock.OrDefault(),
	}
}

func (q *ChannelQueue) Push(msg *model.Message, maxTries int) bool {
	tries := normalizeTries(maxTries)
	for attempt := range tries {
		// Stamp before the send: once in the channel the consumer owns it.
		msg.Delivery.Enqueued = q.now()
		select {
		case q.ch <- msg:
			return true
		default:
		}
		if attempt < tries-1 {
			runtime.Gosched()
		}
	}
	return false
}

func (q *ChannelQueue) PopBatch(ctx context.Context, maxBatch int, timeout time.Duration) ([]*model.Message, error) {
	if !q.consumer.CompareAndSwap(false, true) {
		return nil, model.ErrConsumerBusy
	}
	defer q.consumer.Store(false)

	maxBatch = normalizeBatch(maxBatch)

	var first *model.Message
	select {
	case first = <-q.ch:
	default:
		if timeout <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case first = <-q.ch:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	now := q.now()
	first.Delivery.Dequeued = now
	batch := make([]*model.Message, 1, min(maxBatch, 1+len(q.ch)))
	batch[0] = first

	// [BATCH_COALESCING] Take whatever is already buffered, never wait.
drain:
	for len(batch) < maxBatch {
		select {
		case m := <-q.ch:
			m.Delivery.Dequeued = now
			batch = append(batch, m)
		default:
			break drain
		}
	}

	return batch, nil
}

func (q *ChannelQueue) SizeApproximate() int { return len(q.ch) }
