package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/google/uuid"
)

// StartGuestSession opens an anonymous session scoped to a public wishlist.
func (s *Service) StartGuestSession(ctx context.Context, slug, name string) (*models.GuestSession, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < 2 || n > 120 {
		return nil, newError(KindValidation, "Name must be between 2 and 120 characters")
	}

	w, err := s.publicWishlist(ctx, slug)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session, err := s.Sessions.CreateSession(ctx, &models.GuestSession{
		WishlistID:  w.ID,
		DisplayName: name,
		ExpiresAt:   now.Add(s.guestTTL),
		IsActive:    true,
		LastSeenAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create guest session (wishlist_id=%s): %w", w.ID, err)
	}

	s.logger.Infof("Started guest session %s for wishlist %s", session.ID, w.ID)
	return session, nil
}

// authorizeGuest checks that sessionID is active, unexpired and bound to
// wishlistID.
func (s *Service) authorizeGuest(ctx context.Context, wishlistID, sessionID uuid.UUID) (*models.GuestSession, error) {
	if sessionID == uuid.Nil {
		return nil, errGuestRequired
	}
	session, err := s.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup guest session %s: %w", sessionID, err)
	}
	now := s.now().UTC()
	if !session.ValidFor(wishlistID, now) {
		return nil, errGuestRequired
	}

	if err := s.Sessions.TouchSession(ctx, session.ID, now); err != nil {
		s.logger.WithError(err).Warnf("Failed to touch guest session %s", session.ID)
	}
	return session, nil
}

// StartSessionSweeper runs a background loop that deactivates expired guest
// sessions every interval. It blocks until the context is cancelled, so it
// should be launched in a separate goroutine.
func (s *Service) StartSessionSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Session sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session sweeper stopped")
			return
		case <-ticker.C:
			s.sweepSessions(ctx)
		}
	}
}

func (s *Service) sweepSessions(ctx context.Context) {
	n, err := s.Sessions.DeactivateExpired(ctx, s.now().UTC())
	if err != nil {
		s.logger.Errorf("Failed to deactivate expired guest sessions: %v", err)
		return
	}
	if n > 0 {
		s.logger.Infof("Deactivated %d expired guest sessions", n)
	}
}
