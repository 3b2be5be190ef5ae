package registry

import (
	"fmt"
	"maps"
	"sync/atomic"
	"time"

	"github.com/webitel/im-mailbox-service/internal/domain/model"
	"github.com/webitel/im-mailbox-service/internal/domain/queue"
)

// Settings are the per-user tunables read on every registry mutation.
type Settings struct {
	MaxSessions int
	IdleTimeout time.Duration
	PushTries   int
}

type sessionsMap = map[model.SessionID]*UserSession

// SessionsRegistry holds one user's sessions as an immutable snapshot that is
// replaced atomically on writes.
//
// [COPY_ON_WRITE] Readers (poll, fan-out) load the current map without any
// locking. Writers copy it, mutate the copy and publish it with CAS, retrying
// if another writer committed first.
type SessionsRegistry struct {
	snapshot atomic.Pointer[sessionsMap]
	newQueue queue.NewFunc
	settings func() Settings
	now      model.Clock
}

func NewSessionsRegistry(newQueue queue.NewFunc, settings func() Settings, clock model.Clock) (*SessionsRegistry, error) {
	if newQueue == nil || settings == nil {
		return nil, fmt.Errorf("sessions registry: nil dependency: %w", model.ErrInvalidArgument)
	}

	r := &SessionsRegistry{
		newQueue: newQueue,
		settings: settings,
		now:      clock.OrDefault(),
	}
	empty := make(sessionsMap)
	r.snapshot.Store(&empty)
	return r, nil
}

func (r *SessionsRegistry) load() sessionsMap { return *r.snapshot.Load() }

func (r *SessionsRegistry) Settings() Settings { return r.settings() }

func (r *SessionsRegistry) Now() time.Time { return r.now() }

func (r *SessionsRegistry) GetSession(id model.SessionID) (*UserSession, bool) {
	s, ok := r.load()[id]
	return s, ok
}

// GetOrCreateSession returns the session registered under id, creating it
// when absent. Fails with model.ErrSessionLimitExceeded at the cap.
func (r *SessionsRegistry) GetOrCreateSession(id model.SessionID) (*UserSession, error) {
	s, _, err := r.insert(id)
	return s, err
}

// CreateSession registers id. An already existing session is left as is.
func (r *SessionsRegistry) CreateSession(id model.SessionID) error {
	_, _, err := r.insert(id)
	return err
}

func (r *SessionsRegistry) insert(id model.SessionID) (*UserSession, bool, error) {
	if id.IsEmpty() {
		return nil, false, fmt.Errorf("sessions registry: empty session id: %w", model.ErrInvalidArgument)
	}

	// [OPTIMISTIC_READ]
	if s, ok := r.GetSession(id); ok {
		return s, false, nil
	}

	var created *UserSession
	for {
		cur := r.snapshot.Load()

		// [FIRST_WRITER_WINS] A concurrent insert of the same id is reused.
		if s, ok := (*cur)[id]; ok {
			return s, false, nil
		}

		st := r.settings()
		if len(*cur) >= st.MaxSessions {
			return nil, false, fmt.Errorf("sessions registry: %d sessions: %w", len(*cur), model.ErrSessionLimitExceeded)
		}

		if created == nil {
			var err error
			created, err = NewUserSession(id, r.newQueue(), st.PushTries, r.now)
			if err != nil {
				return nil, false, err
			}
		}

		next := make(sessionsMap, len(*cur)+1)
		maps.Copy(next, *cur)
		next[id] = created

		if r.snapshot.CompareAndSwap(cur, &next) {
			return created, true, nil
		}
	}
}

// FanOutMessage pushes msg into every session of one snapshot. All sessions
// but the last get their own copy; the last one takes msg itself.
// Returns true only if every push succeeded.
func (r *SessionsRegistry) FanOutMessage(msg *model.Message) bool {
	sessions := r.load()

	ok := true
	i := 0
	for _, s := range sessions {
		i++
		m := msg
		if i < len(sessions) {
			m = msg.Clone()
		}
		if !s.PushMessage(m) {
			ok = false
		}
	}
	return ok
}

// CleanIdle drops sessions that are inactive at the current time.
func (r *SessionsRegistry) CleanIdle() int {
	return r.CleanIdleAt(r.now())
}

// CleanIdleAt drops sessions that were not active within IdleTimeout of ref
// and commits the result in a single snapshot swap.
func (r *SessionsRegistry) CleanIdleAt(ref time.Time) int {
	idle := r.settings().IdleTimeout

	for {
		cur := r.snapshot.Load()

		next := make(sessionsMap, len(*cur))
		for id, s := range *cur {
			if s.IsActiveAt(ref, idle) {
				next[id] = s
			}
		}

		removed := len(*cur) - len(next)
		if removed == 0 {
			return 0
		}
		if r.snapshot.CompareAndSwap(cur, &next) {
			return removed
		}
	}
}

func (r *SessionsRegistry) RemoveSession(id model.SessionID) bool {
	for {
		cur := r.snapshot.Load()
		if _, ok := (*cur)[id]; !ok {
			return false
		}

		next := maps.Clone(*cur)
		delete(next, id)

		if r.snapshot.CompareAndSwap(cur, &next) {
			return true
		}
	}
}

// HasNoConsumer sweeps idle sessions and reports whether none remain.
func (r *SessionsRegistry) HasNoConsumer() bool {
	return r.HasNoConsumerAt(r.now())
}

func (r *SessionsRegistry) HasNoConsumerAt(ref time.Time) bool {
	r.CleanIdleAt(ref)
	return len(r.load()) == 0
}

func (r *SessionsRegistry) GetOnlineAmount() int { return len(r.load()) }

// QueueDepth sums the approximate sizes of all session queues.
func (r *SessionsRegistry) QueueDepth() int {
	n := 0
	for _, s := range r.load() {
		n += s.QueueSize()
	}
	return n
}
