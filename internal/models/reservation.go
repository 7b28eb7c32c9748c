package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reservation is the single claim slot of a single-mode item. There is at
// most one row per item; releasing deactivates it instead of deleting.
type Reservation struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ItemID         uuid.UUID  `json:"itemId" db:"item_id"`
	GuestSessionID uuid.UUID  `json:"guestSessionId" db:"guest_session_id"`
	IsActive       bool       `json:"isActive" db:"is_active"`
	ReservedAt     time.Time  `json:"reservedAt" db:"reserved_at"`
	ReleasedAt     *time.Time `json:"releasedAt" db:"released_at"`
}

// HeldBy returns true if the reservation is active and owned by sessionID
func (r *Reservation) HeldBy(sessionID uuid.UUID) bool {
	return r != nil && r.IsActive && r.GuestSessionID == sessionID
}

// Contribution is an append-only ledger entry towards a group item
type Contribution struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	ItemID         uuid.UUID       `json:"itemId" db:"item_id"`
	GuestSessionID uuid.UUID       `json:"guestSessionId" db:"guest_session_id"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Currency       string          `json:"currency" db:"currency"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}

// GuestSession is an anonymous identity bound to one wishlist
type GuestSession struct {
	ID          uuid.UUID `json:"id" db:"id"`
	WishlistID  uuid.UUID `json:"wishlistId" db:"wishlist_id"`
	DisplayName string    `json:"displayName" db:"display_name"`
	ExpiresAt   time.Time `json:"expiresAt" db:"expires_at"`
	IsActive    bool      `json:"isActive" db:"is_active"`
	LastSeenAt  time.Time `json:"lastSeenAt" db:"last_seen_at"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// ValidFor returns true if the session may act on wishlistID at time now
func (g *GuestSession) ValidFor(wishlistID uuid.UUID, now time.Time) bool {
	return g != nil && g.IsActive && g.WishlistID == wishlistID && g.ExpiresAt.After(now)
}
