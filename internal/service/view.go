package service

import (
	"context"
	"fmt"

	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Viewer identifies who is looking at a public wishlist. Both fields are
// optional; invalid guest sessions silently degrade to anonymous.
type Viewer struct {
	UserID         *uuid.UUID
	GuestSessionID *uuid.UUID
}

const (
	ViewerOwner     = "owner"
	ViewerGuest     = "guest"
	ViewerAnonymous = "anonymous"
)

// ItemView is a wish item decorated with its reservation and funding state.
type ItemView struct {
	*models.WishItem
	IsReserved      bool            `json:"isReserved"`
	ReservedByYou   bool            `json:"reservedByYou"`
	MyContribution  decimal.Decimal `json:"myContribution"`
	ProgressPercent float64         `json:"progressPercent"`
}

// PublicWishlistView is what guests see behind a share slug.
type PublicWishlistView struct {
	ID          uuid.UUID             `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Currency    string                `json:"currency"`
	Status      models.WishlistStatus `json:"status"`
	ShareSlug   string                `json:"shareSlug"`
	ViewerKind  string                `json:"viewerKind"`
	Items       []ItemView            `json:"items"`
}

// OwnerWishlistView is the owner's detail view, archived items included.
type OwnerWishlistView struct {
	*models.Wishlist
	Items []ItemView `json:"items"`
}

// PublicWishlist builds the guest-facing view. It reads without item
// locks, so reservation and collected state may lag concurrent writers.
func (s *Service) PublicWishlist(ctx context.Context, slug string, viewer Viewer) (*PublicWishlistView, error) {
	w, err := s.publicWishlist(ctx, slug)
	if err != nil {
		return nil, err
	}

	kind := ViewerAnonymous
	var guestID uuid.UUID
	switch {
	case viewer.UserID != nil && *viewer.UserID == w.OwnerID:
		kind = ViewerOwner
	case viewer.GuestSessionID != nil:
		session, err := s.Sessions.GetSession(ctx, *viewer.GuestSessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to lookup guest session: %w", err)
		}
		if session.ValidFor(w.ID, s.now().UTC()) {
			kind = ViewerGuest
			guestID = session.ID
		}
	}

	items, err := s.itemViews(ctx, w.ID, guestID, false)
	if err != nil {
		return nil, err
	}

	return &PublicWishlistView{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Description,
		Currency:    w.Currency,
		Status:      w.Status,
		ShareSlug:   *w.ShareSlug,
		ViewerKind:  kind,
		Items:       items,
	}, nil
}

// OwnerWishlist returns the owner's detail view of one wishlist.
func (s *Service) OwnerWishlist(ctx context.Context, ownerID, wishlistID uuid.UUID) (*OwnerWishlistView, error) {
	w, err := s.Wishlists.GetByID(ctx, wishlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to get wishlist %s: %w", wishlistID, err)
	}
	if w == nil || w.OwnerID != ownerID {
		return nil, errWishlistNotFound
	}
	items, err := s.itemViews(ctx, w.ID, uuid.Nil, true)
	if err != nil {
		return nil, err
	}
	return &OwnerWishlistView{Wishlist: w, Items: items}, nil
}

func (s *Service) itemViews(ctx context.Context, wishlistID, guestID uuid.UUID, withArchived bool) ([]ItemView, error) {
	items, err := s.Wishlists.GetItems(ctx, wishlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to get items of wishlist %s: %w", wishlistID, err)
	}
	reservations, err := s.Wishlists.GetReservations(ctx, wishlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservations of wishlist %s: %w", wishlistID, err)
	}
	byItem := make(map[uuid.UUID]*models.Reservation, len(reservations))
	for _, r := range reservations {
		byItem[r.ItemID] = r
	}

	mine := make(map[uuid.UUID]decimal.Decimal)
	if guestID != uuid.Nil {
		contributions, err := s.Wishlists.GetContributions(ctx, wishlistID)
		if err != nil {
			return nil, fmt.Errorf("failed to get contributions of wishlist %s: %w", wishlistID, err)
		}
		for _, c := range contributions {
			if c.GuestSessionID == guestID {
				mine[c.ItemID] = mine[c.ItemID].Add(c.Amount)
			}
		}
	}

	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		if item.Status == models.ItemStatusArchived && !withArchived {
			continue
		}
		r := byItem[item.ID]
		views = append(views, ItemView{
			WishItem:        item,
			IsReserved:      r != nil && r.IsActive,
			ReservedByYou:   guestID != uuid.Nil && r.HeldBy(guestID),
			MyContribution:  mine[item.ID],
			ProgressPercent: item.ProgressPercent(),
		})
	}
	return views, nil
}
