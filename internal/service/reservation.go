package service

import (
	"context"

	"github.com/Kerhoff/wishlist/internal/metrics"
	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/Kerhoff/wishlist/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ReservationResult is returned by Reserve and Release.
type ReservationResult struct {
	ItemID     uuid.UUID `json:"itemId"`
	IsReserved bool      `json:"isReserved"`
	Message    string    `json:"message"`
}

type reservationPayload struct {
	ItemID     uuid.UUID `json:"itemId"`
	IsReserved bool      `json:"isReserved"`
}

// Reserve claims a single-mode item for the guest session. Reserving an
// item the session already holds succeeds again and refreshes reservedAt.
func (s *Service) Reserve(ctx context.Context, slug string, itemID, guestSessionID uuid.UUID) (*ReservationResult, error) {
	w, err := s.publicWishlist(ctx, slug)
	if err != nil {
		return nil, err
	}
	guest, err := s.authorizeGuest(ctx, w.ID, guestSessionID)
	if err != nil {
		return nil, err
	}

	err = s.run(ctx, func(ctx context.Context, tx repository.Tx) error {
		locked, err := tx.ShareWishlist(ctx, w.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return errWishlistNotFound
		}
		if locked.IsClosed() {
			return errWishlistClosed
		}

		item, err := tx.LockItem(ctx, w.ID, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return errItemNotFound
		}
		single, ok := classify(item).(singleItem)
		if !ok {
			return newError(KindConflict, "Only reservation is allowed for this item")
		}
		if !single.IsActive() {
			return errItemInactive
		}

		r, err := tx.Reservation(ctx, single.ID)
		if err != nil {
			return err
		}
		if r != nil && r.IsActive && r.GuestSessionID != guest.ID {
			return newError(KindConflict, "Item is already reserved")
		}
		if r == nil {
			r = &models.Reservation{ItemID: single.ID}
		}
		r.GuestSessionID = guest.ID
		r.IsActive = true
		r.ReservedAt = s.now().UTC()
		r.ReleasedAt = nil
		if err := tx.SaveReservation(ctx, r); err != nil {
			return err
		}

		return appendEvent(ctx, tx, w.ID, models.EventItemReserved, &single.ID,
			reservationPayload{ItemID: single.ID, IsReserved: true})
	})
	s.observeReservation(err, metrics.OutcomeAccepted)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"wishlist_id":      w.ID,
		"item_id":          itemID,
		"guest_session_id": guest.ID,
	}).Info("Item reserved")

	return &ReservationResult{ItemID: itemID, IsReserved: true, Message: "Item reserved"}, nil
}

// Release gives up the caller's active reservation. It is allowed on a
// closed wishlist.
func (s *Service) Release(ctx context.Context, slug string, itemID, guestSessionID uuid.UUID) (*ReservationResult, error) {
	w, err := s.publicWishlist(ctx, slug)
	if err != nil {
		return nil, err
	}
	guest, err := s.authorizeGuest(ctx, w.ID, guestSessionID)
	if err != nil {
		return nil, err
	}

	errNoReservation := newError(KindNotFound, "Reservation not found")

	err = s.run(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := tx.ShareWishlist(ctx, w.ID); err != nil {
			return err
		}
		item, err := tx.LockItem(ctx, w.ID, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return errNoReservation
		}

		r, err := tx.Reservation(ctx, item.ID)
		if err != nil {
			return err
		}
		if r == nil || !r.IsActive {
			return errNoReservation
		}
		if r.GuestSessionID != guest.ID {
			return newError(KindForbidden, "You can release only your reservation")
		}

		releasedAt := s.now().UTC()
		r.IsActive = false
		r.ReleasedAt = &releasedAt
		if err := tx.SaveReservation(ctx, r); err != nil {
			return err
		}

		return appendEvent(ctx, tx, w.ID, models.EventItemUnreserved, &item.ID,
			reservationPayload{ItemID: item.ID, IsReserved: false})
	})
	s.observeReservation(err, metrics.OutcomeReleased)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"wishlist_id":      w.ID,
		"item_id":          itemID,
		"guest_session_id": guest.ID,
	}).Info("Reservation released")

	return &ReservationResult{ItemID: itemID, IsReserved: false, Message: "Reservation released"}, nil
}

func (s *Service) observeReservation(err error, success string) {
	switch {
	case err == nil:
		s.metrics.Reservations.WithLabelValues(success).Inc()
	case isServiceError(err):
		s.metrics.Reservations.WithLabelValues(metrics.OutcomeRejected).Inc()
	default:
		s.metrics.Reservations.WithLabelValues(metrics.OutcomeError).Inc()
	}
}
