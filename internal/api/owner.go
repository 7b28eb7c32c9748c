package api

import (
	"net/http"

	"github.com/Kerhoff/wishlist/internal/service"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Wishlists
// ---------------------------------------------------------------------------

func (s *Server) handleCreateWishlist(w http.ResponseWriter, r *http.Request) {
	var req service.WishlistInput
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	created, err := s.svc.CreateWishlist(r.Context(), ownerID(r), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListWishlists(w http.ResponseWriter, r *http.Request) {
	lists, err := s.svc.ListWishlists(r.Context(), ownerID(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, lists)
}

func (s *Server) handleGetWishlist(w http.ResponseWriter, r *http.Request) {
	wishlistID, ok := s.pathUUID(w, r, "wishlistID")
	if !ok {
		return
	}

	view, err := s.svc.OwnerWishlist(r.Context(), ownerID(r), wishlistID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdateWishlist(w http.ResponseWriter, r *http.Request) {
	wishlistID, ok := s.pathUUID(w, r, "wishlistID")
	if !ok {
		return
	}
	var req service.WishlistPatch
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	updated, err := s.svc.UpdateWishlist(r.Context(), ownerID(r), wishlistID, req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handlePublishWishlist(w http.ResponseWriter, r *http.Request) {
	wishlistID, ok := s.pathUUID(w, r, "wishlistID")
	if !ok {
		return
	}

	published, err := s.svc.PublishWishlist(r.Context(), ownerID(r), wishlistID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, published)
}

func (s *Server) handleCloseWishlist(w http.ResponseWriter, r *http.Request) {
	wishlistID, ok := s.pathUUID(w, r, "wishlistID")
	if !ok {
		return
	}

	closed, err := s.svc.CloseWishlist(r.Context(), ownerID(r), wishlistID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, closed)
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

type previewRequest struct {
	URL string `json:"url"`
}

type reorderRequest struct {
	ItemIDs []uuid.UUID `json:"itemIds"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	meta, err := s.svc.FetchPreview(r.Context(), req.URL)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, meta)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	wishlistID, ok := s.pathUUID(w, r, "wishlistID")
	if !ok {
		return
	}
	var req service.ItemInput
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	item, err := s.svc.AddItem(r.Context(), ownerID(r), wishlistID, req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, item)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	wishlistID, ok := s.pathUUID(w, r, "wishlistID")
	if !ok {
		return
	}
	itemID, ok := s.pathUUID(w, r, "itemID")
	if !ok {
		return
	}
	var req service.ItemPatch
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	item, err := s.svc.UpdateItem(r.Context(), ownerID(r), wishlistID, itemID, req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleArchiveItem(w http.ResponseWriter, r *http.Request) {
	wishlistID, ok := s.pathUUID(w, r, "wishlistID")
	if !ok {
		return
	}
	itemID, ok := s.pathUUID(w, r, "itemID")
	if !ok {
		return
	}

	item, err := s.svc.ArchiveItem(r.Context(), ownerID(r), wishlistID, itemID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleReorderItems(w http.ResponseWriter, r *http.Request) {
	wishlistID, ok := s.pathUUID(w, r, "wishlistID")
	if !ok {
		return
	}
	var req reorderRequest
	if ok, msg := s.decodeJSON(r, &req); !ok {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	if err := s.svc.ReorderItems(r.Context(), ownerID(r), wishlistID, req.ItemIDs); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}
