package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/Kerhoff/wishlist/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WishlistInput carries the owner-editable wishlist fields.
type WishlistInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Currency    string `json:"currency"`
}

// WishlistPatch updates only the fields that are set.
type WishlistPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Currency    *string `json:"currency"`
}

// ItemInput describes a new wish item.
type ItemInput struct {
	Title        string           `json:"title"`
	ProductURL   string           `json:"productUrl"`
	ImageURL     string           `json:"imageUrl"`
	Notes        string           `json:"notes"`
	Price        *decimal.Decimal `json:"price"`
	Mode         models.ItemMode  `json:"mode"`
	TargetAmount *decimal.Decimal `json:"targetAmount"`
	Position     *int             `json:"position"`
}

// ItemPatch updates only the fields that are set.
type ItemPatch struct {
	Title        *string            `json:"title"`
	ProductURL   *string            `json:"productUrl"`
	ImageURL     *string            `json:"imageUrl"`
	Notes        *string            `json:"notes"`
	Price        *decimal.Decimal   `json:"price"`
	Mode         *models.ItemMode   `json:"mode"`
	TargetAmount *decimal.Decimal   `json:"targetAmount"`
	Status       *models.ItemStatus `json:"status"`
}

type itemChangePayload struct {
	ItemID *uuid.UUID  `json:"itemId,omitempty"`
	Action string      `json:"action"`
	Title  string      `json:"title,omitempty"`
	Items  []uuid.UUID `json:"itemIds,omitempty"`
}

type wishlistPayload struct {
	WishlistID uuid.UUID `json:"wishlistId"`
}

const slugAttempts = 15

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func validateTitle(title string, max int) error {
	if n := utf8.RuneCountInString(title); n < 2 || n > max {
		return newError(KindValidation, "Title must be between 2 and %d characters", max)
	}
	return nil
}

func normalizeCurrency(currency string) (string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return models.DefaultCurrency, nil
	}
	if len(currency) != 3 {
		return "", newError(KindValidation, "Currency must be a 3-letter code")
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return "", newError(KindValidation, "Currency must be a 3-letter code")
		}
	}
	return currency, nil
}

func validateMoney(v *decimal.Decimal, field string) error {
	if v == nil {
		return nil
	}
	if v.IsNegative() {
		return newError(KindValidation, "%s must not be negative", field)
	}
	if !v.Equal(v.Round(2)) {
		return newError(KindValidation, "%s must have at most 2 decimal places", field)
	}
	return nil
}

func nullDecimal(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*v)
}

// ---------------------------------------------------------------------------
// Wishlists
// ---------------------------------------------------------------------------

// CreateWishlist creates a draft wishlist for ownerID.
func (s *Service) CreateWishlist(ctx context.Context, ownerID uuid.UUID, in WishlistInput) (*models.Wishlist, error) {
	title := strings.TrimSpace(in.Title)
	if err := validateTitle(title, 180); err != nil {
		return nil, err
	}
	currency, err := normalizeCurrency(in.Currency)
	if err != nil {
		return nil, err
	}

	w, err := s.Wishlists.Create(ctx, &models.Wishlist{
		OwnerID:     ownerID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Currency:    currency,
		Status:      models.WishlistStatusDraft,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create wishlist for owner %s: %w", ownerID, err)
	}

	s.logger.Infof("Created wishlist %q (id=%s, owner=%s)", w.Title, w.ID, ownerID)
	return w, nil
}

// ListWishlists returns the owner's wishlists, newest first.
func (s *Service) ListWishlists(ctx context.Context, ownerID uuid.UUID) ([]*models.Wishlist, error) {
	lists, err := s.Wishlists.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wishlists for owner %s: %w", ownerID, err)
	}
	if lists == nil {
		lists = []*models.Wishlist{}
	}
	return lists, nil
}

// ownedWishlist locks a wishlist exclusively and checks ownership.
func ownedWishlist(ctx context.Context, tx repository.Tx, ownerID, wishlistID uuid.UUID) (*models.Wishlist, error) {
	w, err := tx.LockWishlist(ctx, wishlistID)
	if err != nil {
		return nil, err
	}
	if w == nil || w.OwnerID != ownerID {
		return nil, errWishlistNotFound
	}
	return w, nil
}

// UpdateWishlist changes title, description or currency.
func (s *Service) UpdateWishlist(ctx context.Context, ownerID, wishlistID uuid.UUID, patch WishlistPatch) (*models.Wishlist, error) {
	var out *models.Wishlist
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx) error {
		w, err := ownedWishlist(ctx, tx, ownerID, wishlistID)
		if err != nil {
			return err
		}
		if patch.Title != nil {
			title := strings.TrimSpace(*patch.Title)
			if err := validateTitle(title, 180); err != nil {
				return err
			}
			w.Title = title
		}
		if patch.Description != nil {
			w.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.Currency != nil {
			currency, err := normalizeCurrency(*patch.Currency)
			if err != nil {
				return err
			}
			w.Currency = currency
		}
		out = w
		return tx.UpdateWishlist(ctx, w)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var slugUnsafe = regexp.MustCompile(`[^a-zA-Z0-9]+`)

const slugAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func slugify(title string) string {
	base := strings.ToLower(strings.Trim(slugUnsafe.ReplaceAllString(title, "-"), "-"))
	if len(base) > 60 {
		base = base[:60]
	}
	if base == "" {
		return "wishlist"
	}
	return base
}

func generateSlug(title string) string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = slugAlphabet[rand.IntN(len(slugAlphabet))]
	}
	return slugify(title) + "-" + string(suffix)
}

// PublishWishlist makes the wishlist reachable by its share slug,
// generating one on first publish. Publishing a closed wishlist reopens it.
func (s *Service) PublishWishlist(ctx context.Context, ownerID, wishlistID uuid.UUID) (*models.Wishlist, error) {
	var out *models.Wishlist
	publish := func(ctx context.Context, tx repository.Tx) error {
		w, err := ownedWishlist(ctx, tx, ownerID, wishlistID)
		if err != nil {
			return err
		}
		if w.ShareSlug == nil {
			for i := 0; i < slugAttempts && w.ShareSlug == nil; i++ {
				candidate := generateSlug(w.Title)
				taken, err := tx.SlugExists(ctx, candidate)
				if err != nil {
					return err
				}
				if !taken {
					w.ShareSlug = &candidate
				}
			}
			if w.ShareSlug == nil {
				return fmt.Errorf("failed to generate a public slug for wishlist %s", w.ID)
			}
		}
		w.Status = models.WishlistStatusPublished
		w.ClosedAt = nil
		if err := tx.UpdateWishlist(ctx, w); err != nil {
			return err
		}
		out = w
		return appendEvent(ctx, tx, w.ID, models.EventWishlistPublished, nil, wishlistPayload{WishlistID: w.ID})
	}

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = s.run(ctx, publish); !errors.Is(err, repository.ErrSlugTaken) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Published wishlist %s as %q", out.ID, *out.ShareSlug)
	return out, nil
}

// CloseWishlist stops new reservations and contributions. Reads and
// releases keep working.
func (s *Service) CloseWishlist(ctx context.Context, ownerID, wishlistID uuid.UUID) (*models.Wishlist, error) {
	var out *models.Wishlist
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx) error {
		w, err := ownedWishlist(ctx, tx, ownerID, wishlistID)
		if err != nil {
			return err
		}
		closedAt := s.now().UTC()
		w.Status = models.WishlistStatusClosed
		w.ClosedAt = &closedAt
		if err := tx.UpdateWishlist(ctx, w); err != nil {
			return err
		}
		out = w
		return appendEvent(ctx, tx, w.ID, models.EventWishlistClosed, nil, wishlistPayload{WishlistID: w.ID})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Closed wishlist %s", out.ID)
	return out, nil
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

// prefill fills blank fields from the product page. Failures only cost the
// prefill.
func (s *Service) prefill(ctx context.Context, in *ItemInput) {
	if s.previewer == nil || in.ProductURL == "" {
		return
	}
	if in.Title != "" && in.ImageURL != "" && in.Price != nil {
		return
	}
	meta, err := s.previewer.Fetch(ctx, in.ProductURL)
	if err != nil {
		s.logger.WithError(err).Warnf("Link preview failed for %s", in.ProductURL)
		return
	}
	if in.Title == "" && meta.Title != "" {
		in.Title = meta.Title
		if utf8.RuneCountInString(in.Title) > 255 {
			in.Title = string([]rune(in.Title)[:255])
		}
	}
	if in.ImageURL == "" {
		in.ImageURL = meta.ImageURL
	}
	if in.Price == nil && meta.Price.Valid {
		price := meta.Price.Decimal
		in.Price = &price
	}
}

// AddItem appends an item to the owner's wishlist.
func (s *Service) AddItem(ctx context.Context, ownerID, wishlistID uuid.UUID, in ItemInput) (*models.WishItem, error) {
	in.Title = strings.TrimSpace(in.Title)
	s.prefill(ctx, &in)

	if err := validateTitle(in.Title, 255); err != nil {
		return nil, err
	}
	if in.Mode == "" {
		in.Mode = models.ItemModeSingle
	}
	if !in.Mode.Valid() {
		return nil, newError(KindValidation, "Unknown item mode %q", in.Mode)
	}
	if err := validateMoney(in.Price, "Price"); err != nil {
		return nil, err
	}
	if err := validateMoney(in.TargetAmount, "Target amount"); err != nil {
		return nil, err
	}
	if in.Position != nil && *in.Position < 0 {
		return nil, newError(KindValidation, "Position must not be negative")
	}

	item := &models.WishItem{
		WishlistID:   wishlistID,
		Title:        in.Title,
		ProductURL:   strings.TrimSpace(in.ProductURL),
		ImageURL:     strings.TrimSpace(in.ImageURL),
		Notes:        strings.TrimSpace(in.Notes),
		Price:        nullDecimal(in.Price),
		Mode:         in.Mode,
		TargetAmount: nullDecimal(in.TargetAmount),
		Status:       models.ItemStatusActive,
	}
	if item.Mode == models.ItemModeGroup {
		if in.TargetAmount == nil || !in.TargetAmount.IsPositive() {
			item.TargetAmount = item.Price
		}
		if _, ok := item.EffectiveTarget(); !ok {
			return nil, newError(KindValidation, "Group item requires target amount or price")
		}
	}

	err := s.run(ctx, func(ctx context.Context, tx repository.Tx) error {
		w, err := ownedWishlist(ctx, tx, ownerID, wishlistID)
		if err != nil {
			return err
		}
		if w.IsClosed() {
			return newError(KindConflict, "Closed wishlist cannot be edited")
		}

		if in.Position != nil {
			item.Position = *in.Position
		} else {
			items, err := tx.Items(ctx, wishlistID)
			if err != nil {
				return err
			}
			item.Position = 0
			for _, it := range items {
				if it.Position >= item.Position {
					item.Position = it.Position + 1
				}
			}
		}

		if err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
		return appendEvent(ctx, tx, wishlistID, models.EventItemUpdated, &item.ID,
			itemChangePayload{ItemID: &item.ID, Action: "created", Title: item.Title})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Added item %q to wishlist %s", item.Title, wishlistID)
	return item, nil
}

// UpdateItem edits an item under its lock so it cannot race reservations
// or contributions.
func (s *Service) UpdateItem(ctx context.Context, ownerID, wishlistID, itemID uuid.UUID, patch ItemPatch) (*models.WishItem, error) {
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		patch.Title = &t
		if err := validateTitle(t, 255); err != nil {
			return nil, err
		}
	}
	if patch.Mode != nil && !patch.Mode.Valid() {
		return nil, newError(KindValidation, "Unknown item mode %q", *patch.Mode)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, newError(KindValidation, "Unknown item status %q", *patch.Status)
	}
	if err := validateMoney(patch.Price, "Price"); err != nil {
		return nil, err
	}
	if err := validateMoney(patch.TargetAmount, "Target amount"); err != nil {
		return nil, err
	}

	var out *models.WishItem
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := ownedWishlist(ctx, tx, ownerID, wishlistID); err != nil {
			return err
		}
		item, err := tx.LockItem(ctx, wishlistID, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return errItemNotFound
		}

		if patch.Mode != nil && *patch.Mode != item.Mode {
			r, err := tx.Reservation(ctx, item.ID)
			if err != nil {
				return err
			}
			if (r != nil && r.IsActive) || item.CollectedAmount.IsPositive() {
				return newError(KindConflict, "Item mode cannot change after reservations or contributions")
			}
			item.Mode = *patch.Mode
		}
		if patch.Title != nil {
			item.Title = *patch.Title
		}
		if patch.ProductURL != nil {
			item.ProductURL = strings.TrimSpace(*patch.ProductURL)
		}
		if patch.ImageURL != nil {
			item.ImageURL = strings.TrimSpace(*patch.ImageURL)
		}
		if patch.Notes != nil {
			item.Notes = strings.TrimSpace(*patch.Notes)
		}
		if patch.Price != nil {
			item.Price = nullDecimal(patch.Price)
		}
		if patch.TargetAmount != nil {
			item.TargetAmount = nullDecimal(patch.TargetAmount)
		}
		if patch.Status != nil {
			item.Status = *patch.Status
		}

		if item.Mode == models.ItemModeGroup {
			if !item.TargetAmount.Valid && item.Price.Valid {
				item.TargetAmount = item.Price
			}
			target, ok := item.EffectiveTarget()
			if item.CollectedAmount.IsPositive() && (!ok || target.LessThan(item.CollectedAmount)) {
				return newError(KindConflict, "Target amount cannot be lower than collected amount")
			}
		}

		if err := tx.UpdateItem(ctx, item); err != nil {
			return err
		}
		out = item
		return appendEvent(ctx, tx, wishlistID, models.EventItemUpdated, &item.ID,
			itemChangePayload{ItemID: &item.ID, Action: "updated"})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ArchiveItem hides an item from guests. Its reservation and contributions
// stay on record.
func (s *Service) ArchiveItem(ctx context.Context, ownerID, wishlistID, itemID uuid.UUID) (*models.WishItem, error) {
	var out *models.WishItem
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := ownedWishlist(ctx, tx, ownerID, wishlistID); err != nil {
			return err
		}
		item, err := tx.LockItem(ctx, wishlistID, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return errItemNotFound
		}
		item.Status = models.ItemStatusArchived
		if err := tx.UpdateItem(ctx, item); err != nil {
			return err
		}
		out = item
		return appendEvent(ctx, tx, wishlistID, models.EventItemArchived, &item.ID,
			itemChangePayload{ItemID: &item.ID, Action: "archived"})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReorderItems sets positions from the given order. itemIDs must list
// every item of the wishlist exactly once.
func (s *Service) ReorderItems(ctx context.Context, ownerID, wishlistID uuid.UUID, itemIDs []uuid.UUID) error {
	errBadOrder := newError(KindValidation, "itemIds must include all current items exactly once")

	return s.run(ctx, func(ctx context.Context, tx repository.Tx) error {
		if _, err := ownedWishlist(ctx, tx, ownerID, wishlistID); err != nil {
			return err
		}
		items, err := tx.Items(ctx, wishlistID)
		if err != nil {
			return err
		}
		if len(items) != len(itemIDs) {
			return errBadOrder
		}
		position := make(map[uuid.UUID]int, len(itemIDs))
		for i, id := range itemIDs {
			if _, dup := position[id]; dup {
				return errBadOrder
			}
			position[id] = i
		}
		for _, item := range items {
			pos, ok := position[item.ID]
			if !ok {
				return errBadOrder
			}
			if item.Position == pos {
				continue
			}
			item.Position = pos
			if err := tx.UpdateItem(ctx, item); err != nil {
				return err
			}
		}
		return appendEvent(ctx, tx, wishlistID, models.EventItemUpdated, nil,
			itemChangePayload{Action: "reordered", Items: itemIDs})
	})
}
