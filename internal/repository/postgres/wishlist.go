package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/google/uuid"
)

func (s *Store) Create(ctx context.Context, w *models.Wishlist) (*models.Wishlist, error) {
	query := `
		INSERT INTO wishlists (id, owner_id, title, description, currency, status, share_slug, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, query,
		w.ID,
		w.OwnerID,
		w.Title,
		w.Description,
		w.Currency,
		w.Status,
		w.ShareSlug,
		w.CreatedAt,
		w.UpdatedAt,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, mapError(err, "create wishlist")
	}

	return w, nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*models.Wishlist, error) {
	query := `SELECT ` + wishlistColumns + ` FROM wishlists WHERE id = $1`

	w, err := scanWishlist(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get wishlist by ID: %w", err)
	}
	return w, nil
}

func (s *Store) GetBySlug(ctx context.Context, slug string) (*models.Wishlist, error) {
	query := `SELECT ` + wishlistColumns + ` FROM wishlists WHERE share_slug = $1`

	w, err := scanWishlist(s.db.QueryRowContext(ctx, query, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get wishlist by slug: %w", err)
	}
	return w, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Wishlist, error) {
	query := `
		SELECT ` + wishlistColumns + `
		FROM wishlists
		WHERE owner_id = $1
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query wishlists by owner: %w", err)
	}
	defer rows.Close()

	var lists []*models.Wishlist
	for rows.Next() {
		w, err := scanWishlist(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wishlist: %w", err)
		}
		lists = append(lists, w)
	}

	return lists, rows.Err()
}

func (s *Store) GetItems(ctx context.Context, wishlistID uuid.UUID) ([]*models.WishItem, error) {
	return queryItems(ctx, s.db, wishlistID)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryItems(ctx context.Context, q queryer, wishlistID uuid.UUID) ([]*models.WishItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM wishlist_items
		WHERE wishlist_id = $1
		ORDER BY position ASC, created_at ASC`

	rows, err := q.QueryContext(ctx, query, wishlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query wish items: %w", err)
	}
	defer rows.Close()

	var items []*models.WishItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wish item: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

func (s *Store) GetReservations(ctx context.Context, wishlistID uuid.UUID) ([]*models.Reservation, error) {
	query := `
		SELECT r.id, r.item_id, r.guest_session_id, r.is_active, r.reserved_at, r.released_at
		FROM reservations r
		JOIN wishlist_items i ON i.id = r.item_id
		WHERE i.wishlist_id = $1`

	rows, err := s.db.QueryContext(ctx, query, wishlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var out []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

func (s *Store) GetContributions(ctx context.Context, wishlistID uuid.UUID) ([]*models.Contribution, error) {
	query := `
		SELECT c.id, c.item_id, c.guest_session_id, c.amount, c.currency, c.created_at
		FROM contributions c
		JOIN wishlist_items i ON i.id = c.item_id
		WHERE i.wishlist_id = $1
		ORDER BY c.created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, wishlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer rows.Close()

	var out []*models.Contribution
	for rows.Next() {
		c := &models.Contribution{}
		if err := rows.Scan(
			&c.ID,
			&c.ItemID,
			&c.GuestSessionID,
			&c.Amount,
			&c.Currency,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		out = append(out, c)
	}

	return out, rows.Err()
}
