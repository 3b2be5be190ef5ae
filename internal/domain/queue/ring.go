package queue

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/webitel/im-mailbox-service/internal/domain/model"
)

var _ Queue = (*RingQueue)(nil)

// RingQueue keeps messages in a growable ring buffer guarded by a mutex.
// The soft max is checked on push, so the buffer never grows past it.
// A one-slot wake channel parks the consumer between pushes.
type RingQueue struct {
	mu      sync.Mutex
	buf     *queue.Queue
	softMax int
	size    atomic.Int64
	wake    chan struct{}
	now     model.Clock

	consumer atomic.Bool
}

func NewRingQueue(softMax int, clock model.Clock) *RingQueue {
	return &RingQueue{
		buf:     queue.New(),
		softMax: softMax,
		wake:    make(chan struct{}, 1),
		now:     clock.OrDefault(),
	}
}

func (q *RingQueue) Push(msg *model.Message, maxTries int) bool {
	tries := normalizeTries(maxTries)
	for attempt := range tries {
		if q.tryAdd(msg) {
			select {
			case q.wake <- struct{}{}:
			default:
			}
			return true
		}
		if attempt < tries-1 {
			runtime.Gosched()
		}
	}
	return false
}

func (q *RingQueue) tryAdd(msg *model.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.buf.Length() >= q.softMax {
		return false
	}
	msg.Delivery.Enqueued = q.now()
	q.buf.Add(msg)
	q.size.Add(1)
	return true
}

func (q *RingQueue) take(maxBatch int) []*model.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(maxBatch, q.buf.Length())
	if n == 0 {
		return nil
	}

	now := q.now()
	batch := make([]*model.Message, n)
	for i := range n {
		m := q.buf.Remove().(*model.Message)
		m.Delivery.Dequeued = now
		batch[i] = m
	}
	q.size.Add(int64(-n))
	return batch
}

func (q *RingQueue) PopBatch(ctx context.Context, maxBatch int, timeout time.Duration) ([]*model.Message, error) {
	if !q.consumer.CompareAndSwap(false, true) {
		return nil, model.ErrConsumerBusy
	}
	defer q.consumer.Store(false)

	maxBatch = normalizeBatch(maxBatch)

	if batch := q.take(maxBatch); batch != nil {
		return batch, nil
	}
	if timeout <= 0 {
		return nil, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-q.wake:
			// A stale wake token from an already drained push is possible.
			if batch := q.take(maxBatch); batch != nil {
				return batch, nil
			}
		case <-timer.C:
			return q.take(maxBatch), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *RingQueue) SizeApproximate() int { return int(q.size.Load()) }
