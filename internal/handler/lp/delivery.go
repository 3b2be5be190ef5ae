package lp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	httpsrv "github.com/webitel/im-mailbox-service/infra/server/http"
	"github.com/webitel/im-mailbox-service/internal/domain/model"
	lpmarshaller "github.com/webitel/im-mailbox-service/internal/handler/marshaller/lp"
	"github.com/webitel/im-mailbox-service/internal/service"
)

// maxBodyBytes bounds request bodies; texts are capped far below this.
const maxBodyBytes = 64 << 10

type LPHandler struct {
	deliverer service.Deliverer
	logger    *slog.Logger
}

func NewLPHandler(deliverer service.Deliverer, logger *slog.Logger) *LPHandler {
	return &LPHandler{
		deliverer: deliverer,
		logger:    logger,
	}
}

// Routes registers the REST surface. Everything but stats requires an identity.
func (h *LPHandler) Routes(r chi.Router) {
	r.Get("/v1/stats", h.Stats)

	r.Group(func(r chi.Router) {
		r.Use(httpsrv.Identity)
		r.Post("/v1/sessions", h.StartSession)
		r.Delete("/v1/sessions/{sessionID}", h.StopSession)
		r.Get("/v1/sessions/{sessionID}/messages", h.Poll)
		r.Post("/v1/messages", h.Send)
	})
}

func (h *LPHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := httpsrv.UserFromContext(r.Context())

	var req lpmarshaller.StartSessionRequest
	if err := decodeBody(r, &req, true); err != nil {
		httpsrv.WriteError(w, err)
		return
	}

	sessionID, err := h.deliverer.StartSession(r.Context(), userID, model.SessionID(req.SessionID))
	if err != nil {
		httpsrv.WriteError(w, err)
		return
	}
	httpsrv.WriteJSON(w, http.StatusCreated, lpmarshaller.StartSessionResponse{SessionID: sessionID.String()})
}

func (h *LPHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	userID, _ := httpsrv.UserFromContext(r.Context())

	if err := h.deliverer.StopSession(r.Context(), userID, model.SessionID(chi.URLParam(r, "sessionID"))); err != nil {
		httpsrv.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Poll handles the long-polling request.
// It holds the connection until a message arrives or the timeout elapses.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	userID, _ := httpsrv.UserFromContext(r.Context())
	sessionID := model.SessionID(chi.URLParam(r, "sessionID"))

	maxBatch, timeout, err := parsePollQuery(r)
	if err != nil {
		httpsrv.WriteError(w, err)
		return
	}

	batch, err := h.deliverer.Poll(r.Context(), userID, sessionID, maxBatch, timeout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Client disconnected or server is shutting down.
			return
		}
		httpsrv.WriteError(w, err)
		return
	}

	data, err := lpmarshaller.MarshallBatch(batch)
	if err != nil {
		h.logger.Error("LP_MARSHAL_FAILED", "err", err, "session_id", sessionID)
		httpsrv.WriteJSON(w, http.StatusInternalServerError, httpsrv.ErrorBody{Error: "marshal error"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *LPHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, _ := httpsrv.UserFromContext(r.Context())

	var req lpmarshaller.SendRequest
	if err := decodeBody(r, &req, false); err != nil {
		httpsrv.WriteError(w, err)
		return
	}

	res, err := h.deliverer.Send(r.Context(), userID, req.RecipientIDs(), req.Text)
	if err != nil {
		httpsrv.WriteError(w, err)
		return
	}
	httpsrv.WriteJSON(w, http.StatusAccepted, lpmarshaller.NewSendResponse(res))
}

func (h *LPHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	st := h.deliverer.Stats()
	httpsrv.WriteJSON(w, http.StatusOK, lpmarshaller.StatsResponse{
		OnlineUsers: st.OnlineUsers,
		Limiters:    st.Limiters,
	})
}

func decodeBody(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	switch {
	case err == nil:
		return nil
	case optional && errors.Is(err, io.EOF):
		return nil
	default:
		return fmt.Errorf("decode body: %v: %w", err, model.ErrInvalidArgument)
	}
}

// parsePollQuery reads ?max= and ?timeout=. Timeout accepts a Go duration
// ("25s") or whole seconds ("25"). Zero values mean "use the default".
func parsePollQuery(r *http.Request) (int, time.Duration, error) {
	q := r.URL.Query()

	var maxBatch int
	if s := q.Get("max"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("max %q: %w", s, model.ErrInvalidArgument)
		}
		maxBatch = n
	}

	var timeout time.Duration
	if s := q.Get("timeout"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil {
			timeout = time.Duration(secs) * time.Second
		} else if d, err := time.ParseDuration(s); err == nil {
			timeout = d
		} else {
			return 0, 0, fmt.Errorf("timeout %q: %w", s, model.ErrInvalidArgument)
		}
		if timeout < 0 {
			return 0, 0, fmt.Errorf("timeout %q: %w", s, model.ErrInvalidArgument)
		}
	}
	return maxBatch, timeout, nil
}
