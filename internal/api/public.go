package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type guestSessionRequest struct {
	Name string `json:"name"`
}

type guestSessionResponse struct {
	Token          string    `json:"token"`
	GuestSessionID uuid.UUID `json:"guestSessionId"`
	GuestName      string    `json:"guestName"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type contributionRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) handlePublicWishlist(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.PublicWishlist(r.Context(), chi.URLParam(r, "slug"), s.viewer(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleStartGuestSession(w http.ResponseWriter, r *http.Request) {
	var req guestSessionRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	session, err := s.svc.StartGuestSession(r.Context(), chi.URLParam(r, "slug"), req.Name)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	token, err := s.tokens.IssueGuest(session.ID, session.WishlistID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, guestSessionResponse{
		Token:          token,
		GuestSessionID: session.ID,
		GuestName:      session.DisplayName,
		ExpiresAt:      session.ExpiresAt,
	})
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	itemID, ok := s.pathUUID(w, r, "itemID")
	if !ok {
		return
	}

	result, err := s.svc.Reserve(r.Context(), chi.URLParam(r, "slug"), itemID, s.guestSessionID(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	itemID, ok := s.pathUUID(w, r, "itemID")
	if !ok {
		return
	}

	result, err := s.svc.Release(r.Context(), chi.URLParam(r, "slug"), itemID, s.guestSessionID(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	itemID, ok := s.pathUUID(w, r, "itemID")
	if !ok {
		return
	}
	var req contributionRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	result, err := s.svc.Contribute(r.Context(), chi.URLParam(r, "slug"), itemID, s.guestSessionID(r), req.Amount)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	cursor, ok := s.queryCursor(w, r)
	if !ok {
		return
	}
	var limit *int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = &v
	}

	page, err := s.svc.ListEvents(r.Context(), chi.URLParam(r, "slug"), cursor, limit)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

// queryCursor reads the optional cursor query parameter.
func (s *Server) queryCursor(w http.ResponseWriter, r *http.Request) (*int64, bool) {
	raw := r.URL.Query().Get("cursor")
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		s.respondError(w, http.StatusBadRequest, "cursor must be a non-negative integer")
		return nil, false
	}
	return &v, true
}
