package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event in the realtime log
type EventType string

const (
	EventItemReserved      EventType = "item_reserved"
	EventItemUnreserved    EventType = "item_unreserved"
	EventContributionAdded EventType = "contribution_added"
	EventItemUpdated       EventType = "item_updated"
	EventItemArchived      EventType = "item_archived"
	EventWishlistPublished EventType = "wishlist_published"
	EventWishlistClosed    EventType = "wishlist_closed"
)

// Event is an immutable entry of the per-wishlist event log. IDs grow in
// commit order within a wishlist.
type Event struct {
	ID         int64           `json:"id" db:"id"`
	WishlistID uuid.UUID       `json:"-" db:"wishlist_id"`
	EventType  EventType       `json:"eventType" db:"event_type"`
	ItemID     *uuid.UUID      `json:"itemId" db:"item_id"`
	Payload    json.RawMessage `json:"payload" db:"payload"`
	CreatedAt  time.Time       `json:"createdAt" db:"created_at"`
}

// NewEvent builds an unsaved event, encoding payload as JSON
func NewEvent(wishlistID uuid.UUID, eventType EventType, itemID *uuid.UUID, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		WishlistID: wishlistID,
		EventType:  eventType,
		ItemID:     itemID,
		Payload:    raw,
	}, nil
}
