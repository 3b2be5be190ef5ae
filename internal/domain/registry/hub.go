package registry

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/webitel/im-mailbox-service/internal/domain/model"
	"github.com/webitel/im-mailbox-service/internal/domain/shardmap"
)

// Hubber is the online-user directory used by the use-case layer.
type Hubber interface {
	GetMailbox(userID model.UserID) (*UserMailbox, bool)
	CreateOrGetMailbox(userID model.UserID) (*UserMailbox, error)
	RemoveMailbox(userID model.UserID) bool
	GetOnlineAmount() int64
	TraverseRegistry(interShardPause time.Duration) int
	Clear()
}

// Observer receives sweep statistics. Implemented by the metrics recorder.
type Observer interface {
	MailboxKept(sessions, queueDepth int)
	MailboxesEvicted(n int)
}

var _ Hubber = (*Hub)(nil)

// Hub implements the [SCALABLE_REGISTRY] of user mailboxes on top of a
// sharded map. The online counter is adjusted exactly once per insertion
// and removal, so GetOnlineAmount is an O(1) atomic read.
type Hub struct {
	mailboxes *shardmap.Map[model.UserID, *UserMailbox]
	online    atomic.Int64
	sessions  SessionsFactory
	config    hubConfig
}

type hubConfig struct {
	shards   int
	logger   *slog.Logger
	observer Observer
	now      model.Clock
}

func NewHub(sessions SessionsFactory, opts ...Option) (*Hub, error) {
	if sessions == nil {
		return nil, fmt.Errorf("hub: nil sessions factory: %w", model.ErrInvalidArgument)
	}

	h := &Hub{
		sessions: sessions,
		config: hubConfig{
			shards:   256,
			logger:   slog.Default(),
			observer: nopObserver{},
			now:      time.Now,
		},
	}
	for _, opt := range opts {
		opt(h)
	}

	m, err := shardmap.New[model.UserID, *UserMailbox](h.config.shards)
	if err != nil {
		return nil, fmt.Errorf("hub: %w", err)
	}
	h.mailboxes = m
	return h, nil
}

// GetMailbox is a pure shard read. A miss means the user is offline.
func (h *Hub) GetMailbox(userID model.UserID) (*UserMailbox, bool) {
	return h.mailboxes.Get(userID)
}

// CreateOrGetMailbox returns the user's mailbox, creating it on first use.
func (h *Hub) CreateOrGetMailbox(userID model.UserID) (*UserMailbox, error) {
	if userID.IsEmpty() {
		return nil, fmt.Errorf("hub: empty user id: %w", model.ErrInvalidArgument)
	}

	mb, inserted, err := h.mailboxes.TryGetOrCreate(userID, func() (*UserMailbox, error) {
		sessions, err := h.sessions.New()
		if err != nil {
			return nil, err
		}
		return NewUserMailbox(userID, sessions)
	})
	if err != nil {
		return nil, fmt.Errorf("hub: build mailbox %s: %w", userID, err)
	}

	if inserted {
		h.online.Add(1)
		h.config.logger.Debug("[HUB] mailbox created", slog.String("user_id", userID.String()))
	}
	return mb, nil
}

func (h *Hub) RemoveMailbox(userID model.UserID) bool {
	if _, ok := h.mailboxes.Remove(userID); !ok {
		return false
	}
	h.online.Add(-1)
	return true
}

func (h *Hub) GetOnlineAmount() int64 { return h.online.Load() }

// TraverseRegistry is the [JANITOR] pass: it reclaims mailboxes without live
// sessions, reporting the size of every kept one to the observer.
func (h *Hub) TraverseRegistry(interShardPause time.Duration) int {
	start := h.config.now()

	removed := h.mailboxes.CleanupAndCount(
		func(_ model.UserID, mb *UserMailbox) bool { return mb.HasNoConsumerAt(start) },
		func(_ model.UserID, mb *UserMailbox) {
			h.config.observer.MailboxKept(mb.SessionsAmount(), mb.QueueDepth())
		},
		interShardPause,
	)

	if removed > 0 {
		h.online.Add(-int64(removed))
		h.config.observer.MailboxesEvicted(removed)
	}
	return removed
}

// Clear drops every mailbox. Test harness reset.
func (h *Hub) Clear() {
	n := h.mailboxes.Clear()
	h.online.Add(-int64(n))
}

type nopObserver struct{}

func (nopObserver) MailboxKept(int, int)  {}
func (nopObserver) MailboxesEvicted(int) {}
