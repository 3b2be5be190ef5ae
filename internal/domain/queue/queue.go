/*
Package queue implements the per-session message transport.

Every queue is bounded by a soft maximum that acts purely as a backpressure
signal: producers never block, they retry a non-blocking enqueue a few times
and drop the message when the queue stays saturated. The consumer side is a
long-poll: at most one goroutine may wait on a queue at a time.
*/
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/webitel/im-mailbox-service/internal/domain/model"
)

const (
	KindChannel = "channel"
	KindRing    = "ring"

	// DefaultPushTries is used when Push is called with maxTries <= 0.
	DefaultPushTries = 3
)

// Queue is a bounded multi-producer, single-consumer FIFO.
type Queue interface {
	// Push enqueues msg, retrying up to maxTries times. On failure the
	// message is dropped and false is returned.
	Push(msg *model.Message, maxTries int) bool

	// PopBatch waits up to timeout for the first message, then drains up to
	// maxBatch messages in total without blocking. A timeout yields an empty
	// batch and a nil error. Fails with model.ErrConsumerBusy when another
	// consumer is already waiting.
	PopBatch(ctx context.Context, maxBatch int, timeout time.Duration) ([]*model.Message, error)

	// SizeApproximate is a racy, best-effort element count.
	SizeApproximate() int
}

// NewFunc builds an empty queue.
type NewFunc func() Queue

// NewFactory returns a constructor for the backend named by kind.
func NewFactory(kind string, softMax int, clock model.Clock) (NewFunc, error) {
	if softMax <= 0 {
		return nil, fmt.Errorf("queue: soft max %d: %w", softMax, model.ErrInvalidArgument)
	}
	clock = clock.OrDefault()

	switch kind {
	case KindChannel, "":
		return func() Queue { return NewChannelQueue(softMax, clock) }, nil
	case KindRing:
		return func() Queue { return NewRingQueue(softMax, clock) }, nil
	default:
		return nil, fmt.Errorf("queue: unknown kind %q: %w", kind, model.ErrInvalidArgument)
	}
}

func normalizeBatch(maxBatch int) int {
	if maxBatch <= 0 {
		return 1
	}
	return maxBatch
}

func normalizeTries(maxTries int) int {
	if maxTries <= 0 {
		return DefaultPushTries
	}
	return maxTries
}
