package registry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/webitel/im-mailbox-service/internal/domain/model"
	"github.com/webitel/im-mailbox-service/internal/domain/queue"
)

// UserSession is one consumer (device/tab) of a user's messages.
type UserSession struct {
	id        model.SessionID
	queue     queue.Queue
	pushTries int
	now       model.Clock

	// [ATOMIC_FIELDS]
	lastConsumerActivity atomic.Int64 // unix nanos
	missedMessages       atomic.Bool
	polling              atomic.Int32
}

func NewUserSession(id model.SessionID, q queue.Queue, pushTries int, clock model.Clock) (*UserSession, error) {
	if id.IsEmpty() {
		return nil, fmt.Errorf("session: empty id: %w", model.ErrInvalidArgument)
	}
	if q == nil {
		return nil, fmt.Errorf("session %s: nil queue: %w", id, model.ErrInvalidArgument)
	}

	s := &UserSession{
		id:        id,
		queue:     q,
		pushTries: pushTries,
		now:       clock.OrDefault(),
	}
	s.touch()
	return s, nil
}

func (s *UserSession) ID() model.SessionID { return s.id }

// PushMessage enqueues msg. A failed push raises the resync flag.
func (s *UserSession) PushMessage(msg *model.Message) bool {
	if s.queue.Push(msg, s.pushTries) {
		return true
	}
	s.missedMessages.Store(true)
	return false
}

// GetMessages long-polls the session queue. Activity is recorded both before
// and after the wait so time spent blocked counts as consumer activity.
// ResyncRequired is edge-triggered: it is reported once per missed streak.
func (s *UserSession) GetMessages(ctx context.Context, maxSize int, timeout time.Duration) (model.Batch, error) {
	s.polling.Add(1)
	defer s.polling.Add(-1)

	s.touch()
	msgs, err := s.queue.PopBatch(ctx, maxSize, timeout)
	s.touch()
	if err != nil {
		return model.Batch{}, err
	}

	return model.Batch{
		Messages:       msgs,
		ResyncRequired: s.missedMessages.Swap(false),
	}, nil
}

// IsActive reports now - lastActivity <= idle. Equality counts as active.
func (s *UserSession) IsActive(idle time.Duration) bool {
	return s.IsActiveAt(s.now(), idle)
}

// IsActiveAt evaluates activity against a fixed reference time. A session
// with a consumer blocked in GetMessages is always active.
func (s *UserSession) IsActiveAt(ref time.Time, idle time.Duration) bool {
	if s.polling.Load() > 0 {
		return true
	}
	return ref.Sub(s.LastActivity()) <= idle
}

func (s *UserSession) LastActivity() time.Time {
	return time.Unix(0, s.lastConsumerActivity.Load())
}

// QueueSize is the approximate number of buffered messages.
func (s *UserSession) QueueSize() int { return s.queue.SizeApproximate() }

func (s *UserSession) touch() {
	s.lastConsumerActivity.Store(s.now().UnixNano())
}
