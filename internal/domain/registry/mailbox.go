/*
Package registry keeps the in-memory directory of online users.

Key Architectural Concepts:
  - Mailbox per user: every online identity owns one UserMailbox holding the
    set of its sessions (devices/tabs). A message sent to the user is fanned
    out to every session queue.
  - Copy-on-write sessions: polling is the hottest read path, so the session
    set is an immutable snapshot swapped atomically; polls never wait for
    session creation or removal.
  - Sharded directory: mailboxes live in a power-of-two sharded map, so
    concurrent request goroutines and the GC sweep only contend per shard.
  - Backpressure: session queues never block producers. A saturated queue
    drops the message and flags the session for resync.
*/
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/webitel/im-mailbox-service/internal/domain/model"
)

// UserMailbox is the send/poll entry point for one user.
type UserMailbox struct {
	// [IDENTITY]
	userID model.UserID

	// [SESSIONS]
	// Every live consumer of this user, each with its own queue.
	sessions *SessionsRegistry
}

func NewUserMailbox(userID model.UserID, sessions *SessionsRegistry) (*UserMailbox, error) {
	if userID.IsEmpty() {
		return nil, fmt.Errorf("mailbox: empty user id: %w", model.ErrInvalidArgument)
	}
	if sessions == nil {
		return nil, fmt.Errorf("mailbox %s: nil sessions registry: %w", userID, model.ErrInvalidArgument)
	}

	return &UserMailbox{
		userID:   userID,
		sessions: sessions,
	}, nil
}

func (mb *UserMailbox) UserID() model.UserID { return mb.userID }

// SendMessage fans msg out to every session. True only if all accepted it.
func (mb *UserMailbox) SendMessage(msg *model.Message) bool {
	return mb.sessions.FanOutMessage(msg)
}

// PollMessages long-polls one session of this user.
func (mb *UserMailbox) PollMessages(ctx context.Context, sessionID model.SessionID, maxSize int, timeout time.Duration) (model.Batch, error) {
	s, ok := mb.sessions.GetSession(sessionID)
	if !ok {
		return model.Batch{}, fmt.Errorf("mailbox %s: session %s: %w", mb.userID, sessionID, model.ErrSessionNotFound)
	}
	return s.GetMessages(ctx, maxSize, timeout)
}

func (mb *UserMailbox) CreateSession(sessionID model.SessionID) error {
	if err := mb.sessions.CreateSession(sessionID); err != nil {
		return fmt.Errorf("mailbox %s: %w", mb.userID, err)
	}
	return nil
}

func (mb *UserMailbox) GetOrCreateSession(sessionID model.SessionID) (*UserSession, error) {
	s, err := mb.sessions.GetOrCreateSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("mailbox %s: %w", mb.userID, err)
	}
	return s, nil
}

func (mb *UserMailbox) HasSession(sessionID model.SessionID) bool {
	_, ok := mb.sessions.GetSession(sessionID)
	return ok
}

func (mb *UserMailbox) RemoveSession(sessionID model.SessionID) bool {
	return mb.sessions.RemoveSession(sessionID)
}

// HasNoConsumer sweeps idle sessions and reports whether the mailbox can be
// reclaimed.
func (mb *UserMailbox) HasNoConsumer() bool {
	return mb.HasNoConsumerAt(mb.sessions.Now())
}

// HasNoConsumerAt is HasNoConsumer against a fixed sweep start time.
// Inbound traffic does not keep a sessionless mailbox alive.
func (mb *UserMailbox) HasNoConsumerAt(ref time.Time) bool {
	return mb.sessions.HasNoConsumerAt(ref)
}

func (mb *UserMailbox) SessionsAmount() int { return mb.sessions.GetOnlineAmount() }

func (mb *UserMailbox) QueueDepth() int { return mb.sessions.QueueDepth() }
