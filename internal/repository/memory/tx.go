package memory

import (
	"context"
	"fmt"

	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/Kerhoff/wishlist/internal/repository"
	"github.com/google/uuid"
)

// tx stages writes until InTx commits. Reads see committed state only.
type tx struct {
	s        *Store
	releases []func()
	checks   []func() error
	writes   []func()
	events   []*models.Event
}

func (t *tx) release() {
	for i := len(t.releases) - 1; i >= 0; i-- {
		t.releases[i]()
	}
}

func (t *tx) lockWishlist(ctx context.Context, id uuid.UUID, weight int64) (*models.Wishlist, error) {
	t.s.mu.RLock()
	_, ok := t.s.wishlists[id]
	t.s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	sem := t.s.semaphore(t.s.wishlistLocks, id, wishlistLockWeight)
	if err := t.s.acquire(ctx, sem, weight); err != nil {
		return nil, err
	}
	t.releases = append(t.releases, func() { sem.Release(weight) })

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return copyWishlist(t.s.wishlists[id]), nil
}

func (t *tx) ShareWishlist(ctx context.Context, id uuid.UUID) (*models.Wishlist, error) {
	return t.lockWishlist(ctx, id, 1)
}

func (t *tx) LockWishlist(ctx context.Context, id uuid.UUID) (*models.Wishlist, error) {
	return t.lockWishlist(ctx, id, wishlistLockWeight)
}

func (t *tx) LockItem(ctx context.Context, wishlistID, itemID uuid.UUID) (*models.WishItem, error) {
	t.s.mu.RLock()
	it, ok := t.s.items[itemID]
	t.s.mu.RUnlock()
	if !ok || it.WishlistID != wishlistID {
		return nil, nil
	}

	sem := t.s.semaphore(t.s.itemLocks, itemID, 1)
	if err := t.s.acquire(ctx, sem, 1); err != nil {
		return nil, err
	}
	t.releases = append(t.releases, func() { sem.Release(1) })

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	c := *t.s.items[itemID]
	return &c, nil
}

func (t *tx) Items(ctx context.Context, wishlistID uuid.UUID) ([]*models.WishItem, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.itemsOf(wishlistID), nil
}

func (t *tx) Reservation(ctx context.Context, itemID uuid.UUID) (*models.Reservation, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	r, ok := t.s.reservations[itemID]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (t *tx) SlugExists(ctx context.Context, slug string) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	_, ok := t.s.slugs[slug]
	return ok, nil
}

func (t *tx) UpdateWishlist(ctx context.Context, wishlist *models.Wishlist) error {
	c := *wishlist
	c.UpdatedAt = t.s.now().UTC()
	wishlist.UpdatedAt = c.UpdatedAt

	t.checks = append(t.checks, func() error {
		if _, ok := t.s.wishlists[c.ID]; !ok {
			return fmt.Errorf("failed to update wishlist %s: not found", c.ID)
		}
		if c.ShareSlug != nil {
			if owner, taken := t.s.slugs[*c.ShareSlug]; taken && owner != c.ID {
				return repository.ErrSlugTaken
			}
		}
		return nil
	})
	t.writes = append(t.writes, func() {
		prev := t.s.wishlists[c.ID]
		if prev.ShareSlug != nil && (c.ShareSlug == nil || *prev.ShareSlug != *c.ShareSlug) {
			delete(t.s.slugs, *prev.ShareSlug)
		}
		if c.ShareSlug != nil {
			t.s.slugs[*c.ShareSlug] = c.ID
		}
		t.s.wishlists[c.ID] = &c
	})
	return nil
}

func (t *tx) InsertItem(ctx context.Context, item *models.WishItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	now := t.s.now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	c := *item
	t.writes = append(t.writes, func() { t.s.items[c.ID] = &c })
	return nil
}

func (t *tx) UpdateItem(ctx context.Context, item *models.WishItem) error {
	item.UpdatedAt = t.s.now().UTC()
	c := *item
	t.checks = append(t.checks, func() error {
		if _, ok := t.s.items[c.ID]; !ok {
			return fmt.Errorf("failed to update wish item %s: not found", c.ID)
		}
		return nil
	})
	t.writes = append(t.writes, func() { t.s.items[c.ID] = &c })
	return nil
}

func (t *tx) SaveReservation(ctx context.Context, reservation *models.Reservation) error {
	if reservation.ID == uuid.Nil {
		reservation.ID = uuid.New()
	}
	c := *reservation
	t.writes = append(t.writes, func() { t.s.reservations[c.ItemID] = &c })
	return nil
}

func (t *tx) AddContribution(ctx context.Context, contribution *models.Contribution) error {
	if !contribution.Amount.IsPositive() {
		return fmt.Errorf("failed to add contribution: amount must be positive, got %s", contribution.Amount)
	}
	if contribution.ID == uuid.Nil {
		contribution.ID = uuid.New()
	}
	contribution.CreatedAt = t.s.now().UTC()
	c := *contribution
	t.writes = append(t.writes, func() {
		t.s.contributions[c.ItemID] = append(t.s.contributions[c.ItemID], &c)
	})
	return nil
}

func (t *tx) AppendEvent(ctx context.Context, e *models.Event) error {
	t.events = append(t.events, e)
	return nil
}
