package api

import (
	"net/http"

	"github.com/Kerhoff/wishlist/internal/realtime"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// handleSubscribe upgrades to a WebSocket and streams the wishlist's
// events. Unknown and draft wishlists are closed with a policy violation.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	cursor, ok := s.queryCursor(w, r)
	if !ok {
		return
	}
	slug := chi.URLParam(r, "slug")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	conn := realtime.NewWSConn(ws)

	wishlistID, err := s.svc.PublicWishlistID(r.Context(), slug)
	if err != nil {
		s.logger.WithError(err).WithField("slug", slug).Debug("rejecting realtime subscription")
		conn.CloseWith(websocket.ClosePolicyViolation, "wishlist is not available")
		return
	}

	if err := s.hub.Subscribe(wishlistID, conn, cursor); err != nil {
		s.logger.WithError(err).WithField("wishlist_id", wishlistID).Warn("realtime subscription failed")
		conn.CloseWith(websocket.CloseGoingAway, "subscription failed")
		return
	}

	// The read loop ends when the client disconnects or the hub closes
	// the connection.
	_ = conn.ReadLoop()
	s.hub.Unsubscribe(wishlistID, conn)
}
