package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/google/uuid"
)

type tx struct {
	tx     *sql.Tx
	events []*models.Event
}

func (t *tx) selectWishlist(ctx context.Context, id uuid.UUID, mode string) (*models.Wishlist, error) {
	query := `SELECT ` + wishlistColumns + ` FROM wishlists WHERE id = $1 FOR ` + mode

	w, err := scanWishlist(t.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err, "lock wishlist")
	}
	return w, nil
}

func (t *tx) ShareWishlist(ctx context.Context, id uuid.UUID) (*models.Wishlist, error) {
	return t.selectWishlist(ctx, id, "SHARE")
}

func (t *tx) LockWishlist(ctx context.Context, id uuid.UUID) (*models.Wishlist, error) {
	return t.selectWishlist(ctx, id, "UPDATE")
}

func (t *tx) LockItem(ctx context.Context, wishlistID, itemID uuid.UUID) (*models.WishItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM wishlist_items
		WHERE id = $1 AND wishlist_id = $2
		FOR UPDATE`

	item, err := scanItem(t.tx.QueryRowContext(ctx, query, itemID, wishlistID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err, "lock wish item")
	}
	return item, nil
}

func (t *tx) Items(ctx context.Context, wishlistID uuid.UUID) ([]*models.WishItem, error) {
	return queryItems(ctx, t.tx, wishlistID)
}

func (t *tx) Reservation(ctx context.Context, itemID uuid.UUID) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE item_id = $1`

	r, err := scanReservation(t.tx.QueryRowContext(ctx, query, itemID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err, "get reservation")
	}
	return r, nil
}

func (t *tx) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM wishlists WHERE share_slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, mapError(err, "check share slug")
	}
	return exists, nil
}

func (t *tx) UpdateWishlist(ctx context.Context, w *models.Wishlist) error {
	query := `
		UPDATE wishlists
		SET title = $2, description = $3, currency = $4, status = $5,
			share_slug = $6, closed_at = $7, updated_at = $8
		WHERE id = $1`

	w.UpdatedAt = time.Now().UTC()
	_, err := t.tx.ExecContext(ctx, query,
		w.ID,
		w.Title,
		w.Description,
		w.Currency,
		w.Status,
		w.ShareSlug,
		w.ClosedAt,
		w.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "update wishlist")
	}
	return nil
}

func (t *tx) InsertItem(ctx context.Context, item *models.WishItem) error {
	query := `
		INSERT INTO wishlist_items (id, wishlist_id, title, product_url, image_url, notes, price, mode,
			target_amount, collected_amount, status, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING created_at, updated_at`

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	err := t.tx.QueryRowContext(ctx, query,
		item.ID,
		item.WishlistID,
		item.Title,
		item.ProductURL,
		item.ImageURL,
		item.Notes,
		item.Price,
		item.Mode,
		item.TargetAmount,
		item.CollectedAmount,
		item.Status,
		item.Position,
		time.Now().UTC(),
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return mapError(err, "insert wish item")
	}
	return nil
}

func (t *tx) UpdateItem(ctx context.Context, item *models.WishItem) error {
	query := `
		UPDATE wishlist_items
		SET title = $2, product_url = $3, image_url = $4, notes = $5, price = $6, mode = $7,
			target_amount = $8, collected_amount = $9, status = $10, position = $11, updated_at = $12
		WHERE id = $1`

	item.UpdatedAt = time.Now().UTC()
	_, err := t.tx.ExecContext(ctx, query,
		item.ID,
		item.Title,
		item.ProductURL,
		item.ImageURL,
		item.Notes,
		item.Price,
		item.Mode,
		item.TargetAmount,
		item.CollectedAmount,
		item.Status,
		item.Position,
		item.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "update wish item")
	}
	return nil
}

func (t *tx) SaveReservation(ctx context.Context, r *models.Reservation) error {
	query := `
		INSERT INTO reservations (id, item_id, guest_session_id, is_active, reserved_at, released_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (item_id) DO UPDATE
		SET guest_session_id = EXCLUDED.guest_session_id,
			is_active = EXCLUDED.is_active,
			reserved_at = EXCLUDED.reserved_at,
			released_at = EXCLUDED.released_at
		RETURNING id`

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	err := t.tx.QueryRowContext(ctx, query,
		r.ID,
		r.ItemID,
		r.GuestSessionID,
		r.IsActive,
		r.ReservedAt,
		r.ReleasedAt,
	).Scan(&r.ID)
	if err != nil {
		return mapError(err, "save reservation")
	}
	return nil
}

func (t *tx) AddContribution(ctx context.Context, c *models.Contribution) error {
	query := `
		INSERT INTO contributions (id, item_id, guest_session_id, amount, currency)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := t.tx.QueryRowContext(ctx, query,
		c.ID,
		c.ItemID,
		c.GuestSessionID,
		c.Amount,
		c.Currency,
	).Scan(&c.CreatedAt)
	if err != nil {
		return mapError(err, "add contribution")
	}
	return nil
}

// AppendEvent serializes appends per wishlist with a transaction-scoped
// advisory lock held until commit, so ids are handed out in commit order.
func (t *tx) AppendEvent(ctx context.Context, e *models.Event) error {
	if _, err := t.tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, e.WishlistID.String()); err != nil {
		return mapError(err, "lock event log")
	}

	query := `
		INSERT INTO realtime_events (wishlist_id, event_type, item_id, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	itemID := uuid.NullUUID{}
	if e.ItemID != nil {
		itemID = uuid.NullUUID{UUID: *e.ItemID, Valid: true}
	}
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}
	err := t.tx.QueryRowContext(ctx, query, e.WishlistID, e.EventType, itemID, payload).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return mapError(err, "append event")
	}
	t.events = append(t.events, e)
	return nil
}
