package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-mailbox-service/config"
	"github.com/webitel/im-mailbox-service/infra/metrics"
	"github.com/webitel/im-mailbox-service/internal/domain/limiter"
	"github.com/webitel/im-mailbox-service/internal/domain/model"
	"github.com/webitel/im-mailbox-service/internal/domain/registry"
	"github.com/webitel/im-mailbox-service/internal/domain/router"
	"github.com/webitel/im-mailbox-service/internal/service/dto"
)

// startAttempts bounds retries when a sweep reclaims the mailbox between its
// lookup and the session insert.
const startAttempts = 3

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (HTTP/WebSocket/AMQP)
type Deliverer interface {
	StartSession(ctx context.Context, userID model.UserID, sessionID model.SessionID) (model.SessionID, error)
	StopSession(ctx context.Context, userID model.UserID, sessionID model.SessionID) error
	Poll(ctx context.Context, userID model.UserID, sessionID model.SessionID, maxBatch int, timeout time.Duration) (model.Batch, error)
	Send(ctx context.Context, senderID model.UserID, recipients []model.UserID, text string) (router.Result, error)
	Deliver(ctx context.Context, in dto.Inbound) (router.Result, error)
	Stats() Stats
}

// Stats is a point-in-time view of the in-memory state.
type Stats struct {
	OnlineUsers int64
	Limiters    int
}

var _ Deliverer = (*DeliveryService)(nil)

type DeliveryService struct {
	hub     registry.Hubber
	limiter limiter.Limiter
	router  *router.Router
	src     config.Source
	rec     *metrics.Recorder
	logger  *slog.Logger
	now     model.Clock
}

// NewDeliveryService wires the registry, limiter and router together.
func NewDeliveryService(hub registry.Hubber, lim limiter.Limiter, src config.Source, rec *metrics.Recorder, logger *slog.Logger) *DeliveryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeliveryService{
		hub:     hub,
		limiter: lim,
		router:  router.New(hub),
		src:     src,
		rec:     rec,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *DeliveryService) WithClock(clock model.Clock) *DeliveryService {
	s.now = clock.OrDefault()
	return s
}

// [START_SESSION] Creates the mailbox lazily. An empty sessionID gets a
// fresh UUID; an existing session is reused.
func (s *DeliveryService) StartSession(_ context.Context, userID model.UserID, sessionID model.SessionID) (model.SessionID, error) {
	if userID.IsEmpty() {
		return "", fmt.Errorf("start session: empty user id: %w", model.ErrInvalidArgument)
	}
	if sessionID.IsEmpty() {
		sessionID = model.SessionID(uuid.NewString())
	}

	for range startAttempts {
		mb, err := s.hub.CreateOrGetMailbox(userID)
		if err != nil {
			return "", fmt.Errorf("start session: %w", err)
		}
		if err := mb.CreateSession(sessionID); err != nil {
			return "", fmt.Errorf("start session: %w", err)
		}

		// [SWEEP_RACE] The session only counts if mb is still the registered one.
		if cur, ok := s.hub.GetMailbox(userID); ok && cur == mb {
			return sessionID, nil
		}
		s.logger.Debug("[DELIVERY] mailbox reclaimed during session start, retrying",
			slog.String("user_id", userID.String()),
			slog.String("session_id", sessionID.String()),
		)
	}
	return "", fmt.Errorf("start session %s: mailbox of %s kept being reclaimed: %w", sessionID, userID, model.ErrSessionNotFound)
}

func (s *DeliveryService) StopSession(_ context.Context, userID model.UserID, sessionID model.SessionID) error {
	mb, ok := s.hub.GetMailbox(userID)
	if !ok || !mb.RemoveSession(sessionID) {
		return fmt.Errorf("stop session %s of %s: %w", sessionID, userID, model.ErrSessionNotFound)
	}
	return nil
}

// [POLL] Long-polls one session. maxBatch and timeout fall back to the
// configured defaults and are clamped to the configured maximums.
func (s *DeliveryService) Poll(ctx context.Context, userID model.UserID, sessionID model.SessionID, maxBatch int, timeout time.Duration) (model.Batch, error) {
	cfg := s.src.Current().Delivery
	if maxBatch <= 0 || maxBatch > cfg.PollMaxBatch {
		maxBatch = cfg.PollMaxBatch
	}
	if timeout <= 0 {
		timeout = cfg.PollTimeout
	}
	timeout = min(timeout, cfg.MaxPollTimeout)

	mb, ok := s.hub.GetMailbox(userID)
	if !ok {
		return model.Batch{}, fmt.Errorf("poll %s: user %s offline: %w", sessionID, userID, model.ErrSessionNotFound)
	}

	batch, err := mb.PollMessages(ctx, sessionID, maxBatch, timeout)
	if err != nil {
		return model.Batch{}, fmt.Errorf("poll: %w", err)
	}

	now := s.now()
	for _, m := range batch.Messages {
		m.Delivery.Delivered = now
		s.rec.Delivered(ctx, m.Latency())
	}
	return batch, nil
}

// [SEND] Rate-limited client send. The sender's own mailbox is created
// lazily so the sender is reachable by replies.
func (s *DeliveryService) Send(ctx context.Context, senderID model.UserID, recipients []model.UserID, text string) (router.Result, error) {
	payload, err := newPayload(senderID, recipients, text)
	if err != nil {
		return router.Result{}, fmt.Errorf("send: %w", err)
	}

	if !s.limiter.TryAcquire(senderID) {
		s.rec.RateLimited()
		return router.Result{}, fmt.Errorf("send: sender %s: %w", senderID, model.ErrRateLimited)
	}

	if _, err := s.hub.CreateOrGetMailbox(senderID); err != nil {
		return router.Result{}, fmt.Errorf("send: %w", err)
	}

	return s.route(ctx, recipients, model.NewMessage(payload, "", s.now())), nil
}

// [DELIVER] Bus ingress. Upstream producers are trusted: no rate limiting
// and no mailbox is created for the sender.
func (s *DeliveryService) Deliver(ctx context.Context, in dto.Inbound) (router.Result, error) {
	payload, err := newPayload(in.Sender, in.Recipients, in.Text)
	if err != nil {
		return router.Result{}, fmt.Errorf("deliver %s: %w", in.ID, err)
	}

	msg := model.NewMessage(payload, "", s.now())
	if in.ID != uuid.Nil {
		msg.ID = in.ID
	}
	return s.route(ctx, in.Recipients, msg), nil
}

func (s *DeliveryService) Stats() Stats {
	return Stats{
		OnlineUsers: s.hub.GetOnlineAmount(),
		Limiters:    s.limiter.GetTotalLimiters(),
	}
}

func (s *DeliveryService) route(ctx context.Context, recipients []model.UserID, msg *model.Message) router.Result {
	res := s.router.Route(recipients, msg)
	s.rec.Routed(ctx, res.Successful, res.Dropped, res.Offline)
	return res
}

func newPayload(sender model.UserID, recipients []model.UserID, text string) (*model.MessagePayload, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients: %w", model.ErrInvalidArgument)
	}
	for _, r := range recipients {
		if r.IsEmpty() {
			return nil, fmt.Errorf("empty recipient: %w", model.ErrInvalidArgument)
		}
	}
	return model.NewMessagePayload(sender, text)
}
