package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/webitel/im-mailbox-service/internal/domain/model"
	"github.com/webitel/im-mailbox-service/internal/domain/router"
	"github.com/webitel/im-mailbox-service/internal/service/dto"
)

// DelivererMiddleware implements [DECORATOR_PATTERN] to add observability
// to the delivery use cases without touching business logic.
type DelivererMiddleware struct {
	Next   Deliverer
	Logger *slog.Logger
}

// NewDelivererMiddleware creates a new logging decorator for the Deliverer.
func NewDelivererMiddleware(next Deliverer, logger *slog.Logger) Deliverer {
	return &DelivererMiddleware{
		Next:   next,
		Logger: logger,
	}
}

func (m *DelivererMiddleware) StartSession(ctx context.Context, userID model.UserID, sessionID model.SessionID) (model.SessionID, error) {
	id, err := m.Next.StartSession(ctx, userID, sessionID)
	if err != nil {
		m.Logger.Warn("SESSION_START_FAILED", "err", err, "user_id", userID)
		return id, err
	}
	m.Logger.Debug("SESSION_STARTED", "user_id", userID, "session_id", id)
	return id, nil
}

func (m *DelivererMiddleware) StopSession(ctx context.Context, userID model.UserID, sessionID model.SessionID) error {
	err := m.Next.StopSession(ctx, userID, sessionID)
	if err != nil {
		m.Logger.Debug("SESSION_STOP_FAILED", "err", err, "user_id", userID, "session_id", sessionID)
		return err
	}
	m.Logger.Debug("SESSION_STOPPED", "user_id", userID, "session_id", sessionID)
	return nil
}

// Poll logs only failures. A timed-out poll is the normal idle outcome.
func (m *DelivererMiddleware) Poll(ctx context.Context, userID model.UserID, sessionID model.SessionID, maxBatch int, timeout time.Duration) (model.Batch, error) {
	batch, err := m.Next.Poll(ctx, userID, sessionID, maxBatch, timeout)
	switch {
	case err == nil:
		if batch.ResyncRequired {
			m.Logger.Info("SESSION_RESYNC_REQUIRED", "user_id", userID, "session_id", sessionID)
		}
	case errors.Is(err, context.Canceled):
		m.Logger.Debug("POLL_CANCELLED", "user_id", userID, "session_id", sessionID)
	default:
		m.Logger.Warn("POLL_FAILED", "err", err, "user_id", userID, "session_id", sessionID)
	}
	return batch, err
}

// Send wraps the client send with execution timing and outcome logging.
func (m *DelivererMiddleware) Send(ctx context.Context, senderID model.UserID, recipients []model.UserID, text string) (router.Result, error) {
	start := time.Now()

	res, err := m.Next.Send(ctx, senderID, recipients, text)

	duration := time.Since(start)
	if err != nil {
		m.Logger.Warn("MESSAGE_SEND_FAILED",
			"err", err,
			"sender_id", senderID,
			"recipients", len(recipients),
			"duration_ms", duration.Milliseconds(),
		)
		return res, err
	}

	m.Logger.Debug("MESSAGE_SEND_COMPLETED",
		"sender_id", senderID,
		"successful", res.Successful,
		"dropped", res.Dropped,
		"offline", res.Offline,
		"duration_ms", duration.Milliseconds(),
	)
	return res, nil
}

func (m *DelivererMiddleware) Deliver(ctx context.Context, in dto.Inbound) (router.Result, error) {
	start := time.Now()

	res, err := m.Next.Deliver(ctx, in)
	if err != nil {
		m.Logger.Error("MESSAGE_DELIVER_FAILED", "err", err, "message_id", in.ID)
		return res, err
	}

	m.Logger.Debug("MESSAGE_DELIVER_COMPLETED",
		"message_id", in.ID,
		"successful", res.Successful,
		"dropped", res.Dropped,
		"offline", res.Offline,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (m *DelivererMiddleware) Stats() Stats { return m.Next.Stats() }
