package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrLockTimeout is returned when a row or item lock could not be acquired
	// within the configured lock timeout. Callers may retry.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrSlugTaken is returned when a share slug collides with an existing one.
	ErrSlugTaken = errors.New("share slug already taken")
)

// WishlistRepository provides lock-free reads used to build views. Results
// may be slightly stale relative to concurrent writers. Getters return
// nil, nil when the row does not exist.
type WishlistRepository interface {
	Create(ctx context.Context, wishlist *models.Wishlist) (*models.Wishlist, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Wishlist, error)
	GetBySlug(ctx context.Context, slug string) (*models.Wishlist, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Wishlist, error)
	GetItems(ctx context.Context, wishlistID uuid.UUID) ([]*models.WishItem, error)
	GetReservations(ctx context.Context, wishlistID uuid.UUID) ([]*models.Reservation, error)
	GetContributions(ctx context.Context, wishlistID uuid.UUID) ([]*models.Contribution, error)
}

// Ledger runs atomic units of work. Everything done through the Tx,
// including appended events, commits together or not at all. The committed
// events are returned in id order so callers can publish them.
type Ledger interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) ([]*models.Event, error)
}

// Tx is a single unit of work. Locks are taken wishlist first, item second,
// and held until the unit ends.
type Tx interface {
	// ShareWishlist locks the wishlist against close/publish/owner edits
	// while allowing other item operations to proceed.
	ShareWishlist(ctx context.Context, id uuid.UUID) (*models.Wishlist, error)
	// LockWishlist locks the wishlist exclusively.
	LockWishlist(ctx context.Context, id uuid.UUID) (*models.Wishlist, error)
	// LockItem takes the exclusive per-item lock. Returns nil, nil when the
	// item does not belong to the wishlist.
	LockItem(ctx context.Context, wishlistID, itemID uuid.UUID) (*models.WishItem, error)
	Items(ctx context.Context, wishlistID uuid.UUID) ([]*models.WishItem, error)
	Reservation(ctx context.Context, itemID uuid.UUID) (*models.Reservation, error)
	SlugExists(ctx context.Context, slug string) (bool, error)

	UpdateWishlist(ctx context.Context, wishlist *models.Wishlist) error
	InsertItem(ctx context.Context, item *models.WishItem) error
	UpdateItem(ctx context.Context, item *models.WishItem) error
	SaveReservation(ctx context.Context, reservation *models.Reservation) error
	AddContribution(ctx context.Context, contribution *models.Contribution) error
	// AppendEvent records e in the event log. ID and CreatedAt are set by
	// the time InTx returns.
	AppendEvent(ctx context.Context, e *models.Event) error
}

// EventLog is the read side of the per-wishlist event log.
type EventLog interface {
	ListEvents(ctx context.Context, wishlistID uuid.UUID, afterID int64, limit int) ([]*models.Event, error)
	LatestEventID(ctx context.Context, wishlistID uuid.UUID) (int64, error)
}

// SessionRepository stores guest sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *models.GuestSession) (*models.GuestSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.GuestSession, error)
	TouchSession(ctx context.Context, id uuid.UUID, at time.Time) error
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}
