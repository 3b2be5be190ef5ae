package httpsrv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/webitel/im-mailbox-service/config"
)

const readHeaderTimeout = 10 * time.Second

// Server is the public HTTP entry point. Handlers register their routes on
// the embedded chi.Router before the fx lifecycle starts it.
//
// No write timeout is set: long-polls and websocket pumps hold responses
// open. Stop cancels the base context of every request, so blocked polls
// return before Shutdown waits for them.
type Server struct {
	chi.Router

	srv    *http.Server
	logger *slog.Logger
	cancel context.CancelFunc
	addr   string
}

func New(src config.Source, logger *slog.Logger) *Server {
	base, cancel := context.WithCancel(context.Background())

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		RequestLogger(logger),
		middleware.Recoverer,
	)

	return &Server{
		Router: r,
		srv: &http.Server{
			Addr:              src.Current().Service.Address,
			Handler:           r,
			ReadHeaderTimeout: readHeaderTimeout,
			BaseContext:       func(net.Listener) context.Context { return base },
		},
		logger: logger,
		cancel: cancel,
	}
}

func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", s.srv.Addr, err)
	}

	s.addr = ln.Addr().String()
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP_SERVER_FAILED", "err", err)
		}
	}()

	s.logger.Info("HTTP_SERVER_STARTED", "addr", s.addr)
	return nil
}

// Addr is the bound listen address, known after Start.
func (s *Server) Addr() string { return s.addr }

// Stop releases in-flight long-polls, then drains connections until ctx
// expires and closes whatever is left.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
		return fmt.Errorf("http server: shutdown: %w", err)
	}
	s.logger.Info("HTTP_SERVER_STOPPED")
	return nil
}

// RequestLogger logs one line per request with status and latency.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("HTTP_REQUEST_HANDLED",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", middleware.GetReqID(r.Context()),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
