package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/Kerhoff/wishlist/internal/repository"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"
)

// Store implements the repository interfaces on PostgreSQL. Per-item
// serialization uses SELECT ... FOR UPDATE on wishlist_items and every lock
// wait is bounded by a transaction-local lock_timeout.
type Store struct {
	db          *sql.DB
	tracer      trace.Tracer
	lockTimeout time.Duration
}

// NewStore creates a Store on an open database handle.
func NewStore(db *sql.DB, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &Store{
		db:          db,
		tracer:      otel.Tracer("wishlist/repository/postgres"),
		lockTimeout: lockTimeout,
	}
}

var (
	_ repository.WishlistRepository = (*Store)(nil)
	_ repository.Ledger             = (*Store)(nil)
	_ repository.EventLog           = (*Store)(nil)
	_ repository.SessionRepository  = (*Store)(nil)
)

// InTx runs fn inside a READ COMMITTED transaction. Lock timeouts and
// deadlocks surface as repository.ErrLockTimeout.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) ([]*models.Event, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.tx")
	defer span.End()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
	if _, err := sqlTx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return nil, fmt.Errorf("failed to set lock timeout: %w", err)
	}

	t := &tx{tx: sqlTx}
	if err := fn(ctx, t); err != nil {
		if errors.Is(err, repository.ErrLockTimeout) {
			span.SetAttributes(attribute.Bool("lock.timeout", true))
		}
		return nil, err
	}

	if err := sqlTx.Commit(); err != nil {
		err = mapError(err, "commit transaction")
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("events.appended", len(t.events)))
	return t.events, nil
}

// mapError wraps err with the failed operation, translating lock waits and
// unique violations into repository sentinels.
func mapError(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
			return fmt.Errorf("failed to %s: %w", op, repository.ErrLockTimeout)
		case pgUniqueViolation:
			if pqErr.Constraint == "wishlists_share_slug_key" {
				return fmt.Errorf("failed to %s: %w", op, repository.ErrSlugTaken)
			}
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const wishlistColumns = `id, owner_id, title, description, currency, status, share_slug, created_at, updated_at, closed_at`

func scanWishlist(row rowScanner) (*models.Wishlist, error) {
	w := &models.Wishlist{}
	err := row.Scan(
		&w.ID,
		&w.OwnerID,
		&w.Title,
		&w.Description,
		&w.Currency,
		&w.Status,
		&w.ShareSlug,
		&w.CreatedAt,
		&w.UpdatedAt,
		&w.ClosedAt,
	)
	return w, err
}

const itemColumns = `id, wishlist_id, title, product_url, image_url, notes, price, mode,
	target_amount, collected_amount, status, position, created_at, updated_at`

func scanItem(row rowScanner) (*models.WishItem, error) {
	item := &models.WishItem{}
	err := row.Scan(
		&item.ID,
		&item.WishlistID,
		&item.Title,
		&item.ProductURL,
		&item.ImageURL,
		&item.Notes,
		&item.Price,
		&item.Mode,
		&item.TargetAmount,
		&item.CollectedAmount,
		&item.Status,
		&item.Position,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

const reservationColumns = `id, item_id, guest_session_id, is_active, reserved_at, released_at`

func scanReservation(row rowScanner) (*models.Reservation, error) {
	r := &models.Reservation{}
	err := row.Scan(
		&r.ID,
		&r.ItemID,
		&r.GuestSessionID,
		&r.IsActive,
		&r.ReservedAt,
		&r.ReleasedAt,
	)
	return r, err
}
