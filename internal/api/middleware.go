package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Kerhoff/wishlist/internal/service"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// GuestTokenHeader carries the guest token on public endpoints.
const GuestTokenHeader = "X-Guest-Token"

type ctxKey int

const userIDKey ctxKey = iota

// requestLogger emits one logrus entry per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			entry := s.logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("request failed")
				return
			}
			entry.Debug("request handled")
		}()
		next.ServeHTTP(ww, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// requireOwner rejects requests without a valid access token.
func (s *Server) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		userID, err := s.tokens.ParseAccess(token)
		if err != nil {
			s.logger.WithError(err).Debug("rejected access token")
			s.respondError(w, http.StatusUnauthorized, "Invalid access token")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerID(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(userIDKey).(uuid.UUID)
	return id
}

// guestSessionID returns the session proven by the guest token, or uuid.Nil.
// The service turns uuid.Nil into an auth error where a guest is required.
func (s *Server) guestSessionID(r *http.Request) uuid.UUID {
	token := strings.TrimSpace(r.Header.Get(GuestTokenHeader))
	if token == "" {
		return uuid.Nil
	}
	guest, err := s.tokens.ParseGuest(token)
	if err != nil {
		s.logger.WithError(err).Debug("rejected guest token")
		return uuid.Nil
	}
	return guest.SessionID
}

// viewer collects whatever identities the request proves. Invalid tokens
// are ignored so the public view degrades to anonymous.
func (s *Server) viewer(r *http.Request) service.Viewer {
	var v service.Viewer
	if token := bearerToken(r); token != "" {
		if userID, err := s.tokens.ParseAccess(token); err == nil {
			v.UserID = &userID
		}
	}
	if sessionID := s.guestSessionID(r); sessionID != uuid.Nil {
		v.GuestSessionID = &sessionID
	}
	return v
}
