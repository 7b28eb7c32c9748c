package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WishlistStatus represents the publication state of a wishlist
type WishlistStatus string

const (
	WishlistStatusDraft     WishlistStatus = "draft"
	WishlistStatusPublished WishlistStatus = "published"
	WishlistStatusClosed    WishlistStatus = "closed"
)

// ItemMode decides whether an item is reserved by one guest or funded by many
type ItemMode string

const (
	ItemModeSingle ItemMode = "single"
	ItemModeGroup  ItemMode = "group"
)

// Valid reports whether m is a known mode
func (m ItemMode) Valid() bool {
	return m == ItemModeSingle || m == ItemModeGroup
}

// ItemStatus represents the lifecycle state of a wish item
type ItemStatus string

const (
	ItemStatusActive      ItemStatus = "active"
	ItemStatusArchived    ItemStatus = "archived"
	ItemStatusUnavailable ItemStatus = "unavailable"
)

// Valid reports whether s is a known status
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusActive, ItemStatusArchived, ItemStatusUnavailable:
		return true
	}
	return false
}

// DefaultCurrency is used when the owner does not pick one
const DefaultCurrency = "RUB"

// Wishlist is the aggregate root owning items, reservations and contributions
type Wishlist struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	OwnerID     uuid.UUID      `json:"ownerId" db:"owner_id"`
	Title       string         `json:"title" db:"title"`
	Description string         `json:"description" db:"description"`
	Currency    string         `json:"currency" db:"currency"`
	Status      WishlistStatus `json:"status" db:"status"`
	ShareSlug   *string        `json:"shareSlug" db:"share_slug"`
	CreatedAt   time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time      `json:"updatedAt" db:"updated_at"`
	ClosedAt    *time.Time     `json:"closedAt" db:"closed_at"`
}

// IsPublic returns true if guests may view the wishlist
func (w *Wishlist) IsPublic() bool {
	return w.Status == WishlistStatusPublished || w.Status == WishlistStatusClosed
}

// IsClosed returns true if the wishlist no longer accepts reservations or contributions
func (w *Wishlist) IsClosed() bool {
	return w.Status == WishlistStatusClosed
}

// WishItem represents an item in a wishlist
type WishItem struct {
	ID              uuid.UUID           `json:"id" db:"id"`
	WishlistID      uuid.UUID           `json:"wishlistId" db:"wishlist_id"`
	Title           string              `json:"title" db:"title"`
	ProductURL      string              `json:"productUrl" db:"product_url"`
	ImageURL        string              `json:"imageUrl" db:"image_url"`
	Notes           string              `json:"notes" db:"notes"`
	Price           decimal.NullDecimal `json:"price" db:"price"`
	Mode            ItemMode            `json:"mode" db:"mode"`
	TargetAmount    decimal.NullDecimal `json:"targetAmount" db:"target_amount"`
	CollectedAmount decimal.Decimal     `json:"collectedAmount" db:"collected_amount"`
	Status          ItemStatus          `json:"status" db:"status"`
	Position        int                 `json:"position" db:"position"`
	CreatedAt       time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time           `json:"updatedAt" db:"updated_at"`
}

// IsActive returns true if the item accepts reservations or contributions
func (i *WishItem) IsActive() bool {
	return i.Status == ItemStatusActive
}

// EffectiveTarget returns the amount a group item collects towards: the
// target amount when it is positive, the price otherwise. ok is false when
// neither is set to a positive value.
func (i *WishItem) EffectiveTarget() (target decimal.Decimal, ok bool) {
	if i.TargetAmount.Valid && i.TargetAmount.Decimal.IsPositive() {
		return i.TargetAmount.Decimal, true
	}
	if i.Price.Valid && i.Price.Decimal.IsPositive() {
		return i.Price.Decimal, true
	}
	return decimal.Zero, false
}

// ProgressPercent returns collected/target*100 capped at 100, or 0 without a target
func (i *WishItem) ProgressPercent() float64 {
	target, ok := i.EffectiveTarget()
	if !ok {
		return 0
	}
	return Progress(i.CollectedAmount, target)
}

var hundred = decimal.NewFromInt(100)

// Progress computes min(collected/target*100, 100). Money stays decimal until
// the final conversion since the percentage is presentational.
func Progress(collected, target decimal.Decimal) float64 {
	if !target.IsPositive() {
		return 0
	}
	pct := collected.Mul(hundred).Div(target)
	if pct.GreaterThan(hundred) {
		pct = hundred
	}
	f, _ := pct.Float64()
	return f
}
