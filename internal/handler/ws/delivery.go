package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	httpsrv "github.com/webitel/im-mailbox-service/infra/server/http"
	"github.com/webitel/im-mailbox-service/internal/domain/model"
	wsmarshaller "github.com/webitel/im-mailbox-service/internal/handler/marshaller/ws"
	"github.com/webitel/im-mailbox-service/internal/service"
	"golang.org/x/sync/errgroup"
)

const writeWait = 10 * time.Second

type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	upgrader  websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer) *WSHandler {
	return &WSHandler{
		logger:    logger,
		deliverer: deliverer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Origin is enforced by the gateway
		},
	}
}

func (h *WSHandler) Routes(r chi.Router) {
	r.With(httpsrv.Identity).Get("/v1/ws", h.ServeHTTP)
}

// ServeHTTP pushes every poll result of one session over a socket. The
// session is created on connect and removed on disconnect.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. EXTRACT IDENTITY
	userID, _ := httpsrv.UserFromContext(r.Context())

	// 2. OPEN SESSION BEFORE UPGRADE SO FAILURES GET A PROPER STATUS
	sessionID, err := h.deliverer.StartSession(r.Context(), userID, model.SessionID(r.URL.Query().Get("session_id")))
	if err != nil {
		httpsrv.WriteError(w, err)
		return
	}
	defer func() {
		_ = h.deliverer.StopSession(context.WithoutCancel(r.Context()), userID, sessionID)
	}()

	// 3. UPGRADE TO WEBSOCKET
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WS_UPGRADE_FAILED", "err", err, "user_id", userID)
		return
	}
	defer conn.Close()

	h.logger.Info("WS_OPENED", "user_id", userID, "session_id", sessionID)

	// 4. PUMP: the reader only detects close, the writer owns all writes
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return readLoop(conn) })
	g.Go(func() error {
		// Unblocks the reader when the writer stops first.
		defer conn.Close()
		return h.writeLoop(ctx, conn, userID, sessionID)
	})

	if err := g.Wait(); err != nil && !isNormalClose(err) {
		h.logger.Warn("WS_CLOSED_WITH_ERROR", "err", err, "user_id", userID, "session_id", sessionID)
		return
	}
	h.logger.Info("WS_CLOSED", "user_id", userID, "session_id", sessionID)
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, userID model.UserID, sessionID model.SessionID) error {
	hello, err := wsmarshaller.MarshallConnected(sessionID, time.Now())
	if err != nil {
		return err
	}
	if err := write(conn, hello); err != nil {
		return err
	}

	for {
		batch, err := h.deliverer.Poll(ctx, userID, sessionID, 0, 0)
		if err != nil {
			return err
		}
		if batch.Empty() && !batch.ResyncRequired {
			continue
		}

		data, err := wsmarshaller.MarshallBatch(batch, time.Now())
		if err != nil {
			h.logger.Error("WS_MARSHAL_FAILED", "err", err, "session_id", sessionID)
			continue
		}
		if err := write(conn, data); err != nil {
			return err
		}
	}
}

func readLoop(conn *websocket.Conn) error {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func write(conn *websocket.Conn, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func isNormalClose(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
