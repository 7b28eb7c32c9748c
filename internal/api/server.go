package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Kerhoff/wishlist/internal/auth"
	"github.com/Kerhoff/wishlist/internal/realtime"
	"github.com/Kerhoff/wishlist/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const requestTimeout = 30 * time.Second

// Server provides the HTTP API and the realtime WebSocket endpoint.
type Server struct {
	svc      *service.Service
	tokens   *auth.Issuer
	hub      *realtime.Hub
	logger   *logrus.Logger
	router   chi.Router
	upgrader websocket.Upgrader
}

// NewServer creates a Server, registers all routes, and returns it.
func NewServer(svc *service.Service, tokens *auth.Issuer, hub *realtime.Hub, logger *logrus.Logger) *Server {
	s := &Server{
		svc:    svc,
		tokens: tokens,
		hub:    hub,
		logger: logger,
		router: chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

// Handler returns the http.Handler that can be passed to http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ---------------------------------------------------------------------------
// Routes
// ---------------------------------------------------------------------------

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	// The realtime socket outlives any request timeout.
	r.Get("/ws/public/w/{slug}", s.handleSubscribe)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		// API – owner
		r.Group(func(r chi.Router) {
			r.Use(s.requireOwner)

			r.Post("/api/items/preview", s.handlePreview)

			r.Post("/api/wishlists", s.handleCreateWishlist)
			r.Get("/api/wishlists", s.handleListWishlists)
			r.Route("/api/wishlists/{wishlistID}", func(r chi.Router) {
				r.Get("/", s.handleGetWishlist)
				r.Patch("/", s.handleUpdateWishlist)
				r.Post("/publish", s.handlePublishWishlist)
				r.Post("/close", s.handleCloseWishlist)
				r.Post("/items", s.handleAddItem)
				r.Post("/items/reorder", s.handleReorderItems)
				r.Patch("/items/{itemID}", s.handleUpdateItem)
				r.Post("/items/{itemID}/archive", s.handleArchiveItem)
			})
		})

		// API – public
		r.Route("/api/public/w/{slug}", func(r chi.Router) {
			r.Get("/", s.handlePublicWishlist)
			r.Post("/guest-session", s.handleStartGuestSession)
			r.Get("/events", s.handleListEvents)
			r.Post("/items/{itemID}/reserve", s.handleReserve)
			r.Delete("/items/{itemID}/reserve", s.handleRelease)
			r.Post("/items/{itemID}/contributions", s.handleContribute)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// JSON helpers
// ---------------------------------------------------------------------------

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.WithError(err).Error("failed to encode JSON response")
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps a service error kind to its HTTP status. Any
// other error is unexpected and is logged.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var se *service.Error
	if errors.As(err, &se) {
		s.respondError(w, statusForKind(se.Kind), se.Message)
		return
	}
	s.logger.WithError(err).WithFields(logrus.Fields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"request_id": middleware.GetReqID(r.Context()),
	}).Error("unexpected error")
	s.respondError(w, http.StatusInternalServerError, "internal error")
}

func statusForKind(kind service.Kind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindAuth:
		return http.StatusUnauthorized
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// decodeJSON reads the request body into dst and returns an error message on
// failure.  The caller should return immediately when ok == false.
func (s *Server) decodeJSON(r *http.Request, dst any) (ok bool, errMsg string) {
	if r.Body == nil || r.ContentLength == 0 {
		return false, "request body is empty"
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return false, fmt.Sprintf("invalid JSON: %v", err)
	}
	return true, ""
}

// pathUUID reads a UUID path parameter. It writes a 400 response and
// returns false when the value is malformed.
func (s *Server) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}
