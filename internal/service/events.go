package service

import (
	"context"
	"fmt"

	"github.com/Kerhoff/wishlist/internal/models"
)

const (
	DefaultEventPageSize = 50
	MaxEventPageSize     = 200
)

// EventPage is one page of the event log. NextCursor is the id of the last
// returned event, or the input cursor when nothing new was found.
type EventPage struct {
	Events     []*models.Event `json:"events"`
	NextCursor *int64          `json:"nextCursor"`
}

// ListEvents returns events of a public wishlist after cursor in id order.
// A nil limit selects the default page size.
func (s *Service) ListEvents(ctx context.Context, slug string, cursor *int64, pageSize *int) (*EventPage, error) {
	limit := DefaultEventPageSize
	if pageSize != nil {
		limit = *pageSize
	}
	if limit < 1 || limit > MaxEventPageSize {
		return nil, newError(KindValidation, "limit must be between 1 and %d", MaxEventPageSize)
	}
	if cursor != nil && *cursor < 0 {
		return nil, newError(KindValidation, "cursor must not be negative")
	}

	w, err := s.publicWishlist(ctx, slug)
	if err != nil {
		return nil, err
	}

	var after int64
	if cursor != nil {
		after = *cursor
	}
	events, err := s.Events.ListEvents(ctx, w.ID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events (wishlist_id=%s): %w", w.ID, err)
	}

	page := &EventPage{Events: events, NextCursor: cursor}
	if page.Events == nil {
		page.Events = []*models.Event{}
	}
	if n := len(events); n > 0 {
		last := events[n-1].ID
		page.NextCursor = &last
	}
	return page, nil
}
