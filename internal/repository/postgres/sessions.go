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

func (s *Store) CreateSession(ctx context.Context, g *models.GuestSession) (*models.GuestSession, error) {
	query := `
		INSERT INTO guest_sessions (id, wishlist_id, display_name, expires_at, is_active, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	err := s.db.QueryRowContext(ctx, query,
		g.ID,
		g.WishlistID,
		g.DisplayName,
		g.ExpiresAt,
		g.IsActive,
		g.LastSeenAt,
	).Scan(&g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create guest session: %w", err)
	}
	return g, nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.GuestSession, error) {
	query := `
		SELECT id, wishlist_id, display_name, expires_at, is_active, last_seen_at, created_at
		FROM guest_sessions
		WHERE id = $1`

	g := &models.GuestSession{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&g.ID,
		&g.WishlistID,
		&g.DisplayName,
		&g.ExpiresAt,
		&g.IsActive,
		&g.LastSeenAt,
		&g.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get guest session: %w", err)
	}
	return g, nil
}

func (s *Store) TouchSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE guest_sessions SET last_seen_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("failed to touch guest session: %w", err)
	}
	return nil
}

func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE guest_sessions SET is_active = false WHERE is_active AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired sessions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}
