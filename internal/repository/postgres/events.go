package postgres

import (
	"context"
	"fmt"

	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ListEvents returns events of a wishlist with id > afterID in ascending id order.
func (s *Store) ListEvents(ctx context.Context, wishlistID uuid.UUID, afterID int64, limit int) ([]*models.Event, error) {
	ctx, span := s.tracer.Start(ctx, "eventlog.list",
		trace.WithAttributes(
			attribute.String("wishlist.id", wishlistID.String()),
			attribute.Int64("after.id", afterID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	query := `
		SELECT id, wishlist_id, event_type, item_id, payload, created_at
		FROM realtime_events
		WHERE wishlist_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, wishlistID, afterID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		e := &models.Event{}
		var itemID uuid.NullUUID
		var payload []byte
		if err := rows.Scan(&e.ID, &e.WishlistID, &e.EventType, &itemID, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if itemID.Valid {
			id := itemID.UUID
			e.ItemID = &id
		}
		e.Payload = payload
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.count", len(events)))
	return events, nil
}

// LatestEventID returns the highest event id of a wishlist, or 0.
func (s *Store) LatestEventID(ctx context.Context, wishlistID uuid.UUID) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM realtime_events WHERE wishlist_id = $1`, wishlistID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest event id: %w", err)
	}
	return id, nil
}
