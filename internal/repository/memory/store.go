// Package memory is an in-process implementation of the repository
// interfaces. It backs the memory STORE mode and the service tests.
//
// Writes made through a Tx are staged and applied at commit under the store
// mutex, which is also where event IDs are assigned. Since the per-item and
// per-wishlist locks are still held at that point, event IDs follow commit
// order within a wishlist.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/Kerhoff/wishlist/internal/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// wishlistLockWeight is the weight of an exclusive wishlist lock. Shared
// holders take 1 each.
const wishlistLockWeight = 1 << 20

// Store keeps all state in maps guarded by mu.
type Store struct {
	mu            sync.RWMutex
	wishlists     map[uuid.UUID]*models.Wishlist
	slugs         map[string]uuid.UUID
	items         map[uuid.UUID]*models.WishItem
	reservations  map[uuid.UUID]*models.Reservation // keyed by item
	contributions map[uuid.UUID][]*models.Contribution
	sessions      map[uuid.UUID]*models.GuestSession
	events        map[uuid.UUID][]*models.Event
	lastEventID   int64

	locksMu       sync.Mutex
	itemLocks     map[uuid.UUID]*semaphore.Weighted
	wishlistLocks map[uuid.UUID]*semaphore.Weighted

	lockTimeout time.Duration
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long a Tx waits for a wishlist or item lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithClock overrides time.Now for commit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		wishlists:     make(map[uuid.UUID]*models.Wishlist),
		slugs:         make(map[string]uuid.UUID),
		items:         make(map[uuid.UUID]*models.WishItem),
		reservations:  make(map[uuid.UUID]*models.Reservation),
		contributions: make(map[uuid.UUID][]*models.Contribution),
		sessions:      make(map[uuid.UUID]*models.GuestSession),
		events:        make(map[uuid.UUID][]*models.Event),
		itemLocks:     make(map[uuid.UUID]*semaphore.Weighted),
		wishlistLocks: make(map[uuid.UUID]*semaphore.Weighted),
		lockTimeout:   3 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ repository.WishlistRepository = (*Store)(nil)
	_ repository.Ledger             = (*Store)(nil)
	_ repository.EventLog           = (*Store)(nil)
	_ repository.SessionRepository  = (*Store)(nil)
)

// ---------------------------------------------------------------------------
// Locks
// ---------------------------------------------------------------------------

func (s *Store) semaphore(m map[uuid.UUID]*semaphore.Weighted, id uuid.UUID, size int64) *semaphore.Weighted {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	sem, ok := m[id]
	if !ok {
		sem = semaphore.NewWeighted(size)
		m[id] = sem
	}
	return sem
}

func (s *Store) acquire(ctx context.Context, sem *semaphore.Weighted, n int64) error {
	lctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	if err := sem.Acquire(lctx, n); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return repository.ErrLockTimeout
	}
	return nil
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

// InTx runs fn and applies its staged writes if it returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) ([]*models.Event, error) {
	t := &tx{s: s}
	defer t.release()

	if err := fn(ctx, t); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, check := range t.checks {
		if err := check(); err != nil {
			return nil, err
		}
	}
	for _, apply := range t.writes {
		apply()
	}

	now := s.now().UTC()
	for _, e := range t.events {
		s.lastEventID++
		e.ID = s.lastEventID
		e.CreatedAt = now
		stored := *e
		s.events[e.WishlistID] = append(s.events[e.WishlistID], &stored)
	}
	return t.events, nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func (s *Store) Create(ctx context.Context, wishlist *models.Wishlist) (*models.Wishlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wishlist.ID == uuid.Nil {
		wishlist.ID = uuid.New()
	}
	now := s.now().UTC()
	wishlist.CreatedAt = now
	wishlist.UpdatedAt = now
	if wishlist.ShareSlug != nil {
		if _, taken := s.slugs[*wishlist.ShareSlug]; taken {
			return nil, repository.ErrSlugTaken
		}
		s.slugs[*wishlist.ShareSlug] = wishlist.ID
	}
	c := *wishlist
	s.wishlists[wishlist.ID] = &c
	return wishlist, nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*models.Wishlist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyWishlist(s.wishlists[id]), nil
}

func (s *Store) GetBySlug(ctx context.Context, slug string) (*models.Wishlist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.slugs[slug]
	if !ok {
		return nil, nil
	}
	return copyWishlist(s.wishlists[id]), nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Wishlist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var lists []*models.Wishlist
	for _, w := range s.wishlists {
		if w.OwnerID == ownerID {
			lists = append(lists, copyWishlist(w))
		}
	}
	sort.Slice(lists, func(i, j int) bool { return lists[i].CreatedAt.After(lists[j].CreatedAt) })
	return lists, nil
}

func (s *Store) GetItems(ctx context.Context, wishlistID uuid.UUID) ([]*models.WishItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemsOf(wishlistID), nil
}

func (s *Store) itemsOf(wishlistID uuid.UUID) []*models.WishItem {
	var items []*models.WishItem
	for _, it := range s.items {
		if it.WishlistID == wishlistID {
			c := *it
			items = append(items, &c)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

func (s *Store) GetReservations(ctx context.Context, wishlistID uuid.UUID) ([]*models.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Reservation
	for itemID, r := range s.reservations {
		if it, ok := s.items[itemID]; ok && it.WishlistID == wishlistID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) GetContributions(ctx context.Context, wishlistID uuid.UUID) ([]*models.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Contribution
	for itemID, list := range s.contributions {
		if it, ok := s.items[itemID]; !ok || it.WishlistID != wishlistID {
			continue
		}
		for _, c := range list {
			cc := *c
			out = append(out, &cc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---------------------------------------------------------------------------
// Event log
// ---------------------------------------------------------------------------

func (s *Store) ListEvents(ctx context.Context, wishlistID uuid.UUID, afterID int64, limit int) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.events[wishlistID]
	start := sort.Search(len(log), func(i int) bool { return log[i].ID > afterID })
	end := len(log)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]*models.Event, 0, end-start)
	for _, e := range log[start:end] {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) LatestEventID(ctx context.Context, wishlistID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.events[wishlistID]
	if len(log) == 0 {
		return 0, nil
	}
	return log[len(log)-1].ID, nil
}

// ---------------------------------------------------------------------------
// Guest sessions
// ---------------------------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, session *models.GuestSession) (*models.GuestSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	session.CreatedAt = s.now().UTC()
	c := *session
	s.sessions[session.ID] = &c
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.GuestSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	c := *g
	return &c, nil
}

func (s *Store) TouchSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.sessions[id]; ok {
		g.LastSeenAt = at
	}
	return nil
}

func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, g := range s.sessions {
		if g.IsActive && !g.ExpiresAt.After(now) {
			g.IsActive = false
			n++
		}
	}
	return n, nil
}

func copyWishlist(w *models.Wishlist) *models.Wishlist {
	if w == nil {
		return nil
	}
	c := *w
	return &c
}
