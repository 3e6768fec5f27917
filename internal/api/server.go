// Package api exposes the daemon's control surface over the session's unix
// socket. Clients attach with any HTTP client pointed at the socket; the
// payloads are JSON.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/caioqm/deskchat/internal/media"
	"github.com/caioqm/deskchat/internal/outbox"
	"github.com/caioqm/deskchat/internal/search"
	"github.com/caioqm/deskchat/internal/status"
	"github.com/caioqm/deskchat/internal/store"
	"github.com/caioqm/deskchat/internal/transport"
)

// Server serves the local control API on a unix socket.
type Server struct {
	socketPath string
	logger     *zap.Logger
	http       *http.Server
	handlers   *handlers
}

// Deps are the components the API fronts.
type Deps struct {
	DB      *store.DB
	Machine *status.Machine
	Manager *transport.Manager
	Queue   *outbox.Queue
	Stager  *media.Stager
	Index   *search.Index
}

func NewServer(socketPath string, deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		socketPath: socketPath,
		logger:     logger.Named("api"),
		handlers:   &handlers{deps: deps, logger: logger.Named("api")},
	}
	s.http = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	h := s.handlers

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.getStatus)
		r.Post("/connection/retry", h.retryConnection)

		r.Route("/chats/{chatID}", func(r chi.Router) {
			r.Get("/messages", h.listMessages)
			r.Post("/messages", h.sendMessage)
			r.Get("/search", h.searchChat)
		})

		r.Post("/messages/{tempID}/retry", h.retryMessage)

		r.Get("/search", h.searchAll)
		r.Post("/search/next", h.searchNext)
		r.Post("/search/previous", h.searchPrevious)

		r.Route("/attachments", func(r chi.Router) {
			r.Get("/", h.listStaged)
			r.Post("/", h.stageAttachment)
			r.Delete("/", h.discardStaged)
		})
	})
	return r
}

// Start binds the unix socket and begins serving. A stale socket from a
// crashed daemon is removed first; the session lock guarantees no live
// daemon owns it.
func (s *Server) Start() error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return err
	}
	s.logger.Info("control api listening", zap.String("socket", s.socketPath))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control api stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down and removes the socket.
func (s *Server) Stop(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if rmErr := os.Remove(s.socketPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}
