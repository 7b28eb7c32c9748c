package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/Kerhoff/wishlist/internal/repository/memory"
	"github.com/Kerhoff/wishlist/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Publisher that keeps every event it is handed.
type recorder struct {
	mu     sync.Mutex
	events []*models.Event
}

func (r *recorder) Publish(e *models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(t models.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType == t {
			n++
		}
	}
	return n
}

type fixture struct {
	t        require.TestingT
	ctx      context.Context
	store    *memory.Store
	svc      *Service
	pub      *recorder
	owner    uuid.UUID
	wishlist *models.Wishlist
	slug     string
}

// newFixture returns a service over a fresh memory store with one
// published wishlist.
func newFixture(t require.TestingT, opts ...Option) *fixture {
	store := memory.New(memory.WithLockTimeout(2 * time.Second))
	pub := &recorder{}
	opts = append([]Option{WithPublisher(pub)}, opts...)
	svc := New(logger.Discard(), store, store, store, store, opts...)

	ctx := context.Background()
	owner := uuid.New()
	w, err := svc.CreateWishlist(ctx, owner, WishlistInput{Title: "Birthday 2026", Currency: "rub"})
	require.NoError(t, err)
	w, err = svc.PublishWishlist(ctx, owner, w.ID)
	require.NoError(t, err)

	return &fixture{
		t: t, ctx: ctx, store: store, svc: svc, pub: pub,
		owner: owner, wishlist: w, slug: *w.ShareSlug,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) addSingle(title string) *models.WishItem {
	item, err := f.svc.AddItem(f.ctx, f.owner, f.wishlist.ID, ItemInput{Title: title})
	require.NoError(f.t, err)
	return item
}

func (f *fixture) addGroup(title, target string) *models.WishItem {
	amount := dec(target)
	item, err := f.svc.AddItem(f.ctx, f.owner, f.wishlist.ID, ItemInput{
		Title:        title,
		Mode:         models.ItemModeGroup,
		TargetAmount: &amount,
	})
	require.NoError(f.t, err)
	return item
}

func (f *fixture) guest(name string) uuid.UUID {
	session, err := f.svc.StartGuestSession(f.ctx, f.slug, name)
	require.NoError(f.t, err)
	return session.ID
}

func requireKind(t *testing.T, err error, kind Kind, message string) {
	t.Helper()
	require.Error(t, err)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, kind, se.Kind)
	if message != "" {
		assert.Equal(t, message, se.Message)
	}
}

func TestCreateWishlistValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateWishlist(f.ctx, f.owner, WishlistInput{Title: " x "})
	requireKind(t, err, KindValidation, "")

	_, err = f.svc.CreateWishlist(f.ctx, f.owner, WishlistInput{Title: "Gifts", Currency: "euro"})
	requireKind(t, err, KindValidation, "Currency must be a 3-letter code")

	w, err := f.svc.CreateWishlist(f.ctx, f.owner, WishlistInput{Title: "  Gifts  ", Currency: " eur "})
	require.NoError(t, err)
	assert.Equal(t, "Gifts", w.Title)
	assert.Equal(t, "EUR", w.Currency)
	assert.Equal(t, models.WishlistStatusDraft, w.Status)
	assert.Nil(t, w.ShareSlug)
}

func TestListWishlistsOnlyOwner(t *testing.T) {
	f := newFixture(t)

	other, err := f.svc.ListWishlists(f.ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, other)

	mine, err := f.svc.ListWishlists(f.ctx, f.owner)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.wishlist.ID, mine[0].ID)
}

func TestPublishWishlist(t *testing.T) {
	f := newFixture(t)

	assert.Regexp(t, `^birthday-2026-[a-z0-9]{6}$`, f.slug)
	assert.Equal(t, models.WishlistStatusPublished, f.wishlist.Status)
	assert.Equal(t, 1, f.pub.count(models.EventWishlistPublished))

	// Republishing keeps the slug.
	again, err := f.svc.PublishWishlist(f.ctx, f.owner, f.wishlist.ID)
	require.NoError(t, err)
	assert.Equal(t, f.slug, *again.ShareSlug)

	_, err = f.svc.PublishWishlist(f.ctx, uuid.New(), f.wishlist.ID)
	requireKind(t, err, KindNotFound, "Wishlist not found")
}

func TestDraftWishlistIsNotPublic(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.PublicWishlist(f.ctx, "no-such-slug", Viewer{})
	requireKind(t, err, KindNotFound, "Public wishlist not found")

	draft, err := f.svc.CreateWishlist(f.ctx, f.owner, WishlistInput{Title: "Secret"})
	require.NoError(t, err)
	_, err = f.svc.StartGuestSession(f.ctx, "secret", "Alice")
	requireKind(t, err, KindNotFound, "")
	assert.Equal(t, models.WishlistStatusDraft, draft.Status)
}

func TestUpdateWishlist(t *testing.T) {
	f := newFixture(t)

	title := "New title"
	currency := "usd"
	w, err := f.svc.UpdateWishlist(f.ctx, f.owner, f.wishlist.ID, WishlistPatch{Title: &title, Currency: &currency})
	require.NoError(t, err)
	assert.Equal(t, "New title", w.Title)
	assert.Equal(t, "USD", w.Currency)
	assert.Equal(t, f.slug, *w.ShareSlug)

	bad := "x"
	_, err = f.svc.UpdateWishlist(f.ctx, f.owner, f.wishlist.ID, WishlistPatch{Title: &bad})
	requireKind(t, err, KindValidation, "")
}

func TestAddItemDefaults(t *testing.T) {
	f := newFixture(t)

	first := f.addSingle("Book")
	second := f.addSingle("Lamp")
	assert.Equal(t, models.ItemModeSingle, first.Mode)
	assert.Equal(t, models.ItemStatusActive, first.Status)
	assert.Equal(t, 0, first.Position)
	assert.Equal(t, 1, second.Position)

	price := dec("1500")
	group, err := f.svc.AddItem(f.ctx, f.owner, f.wishlist.ID, ItemInput{
		Title: "Bike", Mode: models.ItemModeGroup, Price: &price,
	})
	require.NoError(t, err)
	target, ok := group.EffectiveTarget()
	require.True(t, ok)
	assert.True(t, target.Equal(price), "target falls back to price")

	_, err = f.svc.AddItem(f.ctx, f.owner, f.wishlist.ID, ItemInput{Title: "Car", Mode: models.ItemModeGroup})
	requireKind(t, err, KindValidation, "Group item requires target amount or price")

	_, err = f.svc.AddItem(f.ctx, f.owner, f.wishlist.ID, ItemInput{Title: "Car", Mode: "raffle"})
	requireKind(t, err, KindValidation, "")

	negative := dec("-1")
	_, err = f.svc.AddItem(f.ctx, f.owner, f.wishlist.ID, ItemInput{Title: "Car", Price: &negative})
	requireKind(t, err, KindValidation, "Price must not be negative")
}

func TestUpdateItemGuards(t *testing.T) {
	f := newFixture(t)
	single := f.addSingle("Book")
	group := f.addGroup("Bike", "1000")
	alice := f.guest("Alice")

	_, err := f.svc.Reserve(f.ctx, f.slug, single.ID, alice)
	require.NoError(t, err)
	groupMode := models.ItemModeGroup
	_, err = f.svc.UpdateItem(f.ctx, f.owner, f.wishlist.ID, single.ID, ItemPatch{Mode: &groupMode})
	requireKind(t, err, KindConflict, "Item mode cannot change after reservations or contributions")

	_, err = f.svc.Contribute(f.ctx, f.slug, group.ID, alice, dec("600"))
	require.NoError(t, err)
	low := dec("500")
	_, err = f.svc.UpdateItem(f.ctx, f.owner, f.wishlist.ID, group.ID, ItemPatch{TargetAmount: &low})
	requireKind(t, err, KindConflict, "Target amount cannot be lower than collected amount")

	high := dec("2000")
	title := "Road bike"
	updated, err := f.svc.UpdateItem(f.ctx, f.owner, f.wishlist.ID, group.ID, ItemPatch{TargetAmount: &high, Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Road bike", updated.Title)
	assert.Equal(t, 30.0, updated.ProgressPercent())
}

func TestArchiveItemHidesFromGuests(t *testing.T) {
	f := newFixture(t)
	book := f.addSingle("Book")
	f.addSingle("Lamp")

	archived, err := f.svc.ArchiveItem(f.ctx, f.owner, f.wishlist.ID, book.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusArchived, archived.Status)
	assert.Equal(t, 1, f.pub.count(models.EventItemArchived))

	public, err := f.svc.PublicWishlist(f.ctx, f.slug, Viewer{})
	require.NoError(t, err)
	require.Len(t, public.Items, 1)
	assert.Equal(t, "Lamp", public.Items[0].Title)

	owner, err := f.svc.OwnerWishlist(f.ctx, f.owner, f.wishlist.ID)
	require.NoError(t, err)
	assert.Len(t, owner.Items, 2)

	_, err = f.svc.Reserve(f.ctx, f.slug, book.ID, f.guest("Alice"))
	requireKind(t, err, KindConflict, "Item is not active")
}

func TestReorderItems(t *testing.T) {
	f := newFixture(t)
	a := f.addSingle("First")
	b := f.addSingle("Second")
	c := f.addSingle("Third")

	require.NoError(t, f.svc.ReorderItems(f.ctx, f.owner, f.wishlist.ID, []uuid.UUID{c.ID, a.ID, b.ID}))

	view, err := f.svc.OwnerWishlist(f.ctx, f.owner, f.wishlist.ID)
	require.NoError(t, err)
	require.Len(t, view.Items, 3)
	assert.Equal(t, []string{"Third", "First", "Second"},
		[]string{view.Items[0].Title, view.Items[1].Title, view.Items[2].Title})

	err = f.svc.ReorderItems(f.ctx, f.owner, f.wishlist.ID, []uuid.UUID{a.ID, a.ID, b.ID})
	requireKind(t, err, KindValidation, "itemIds must include all current items exactly once")
	err = f.svc.ReorderItems(f.ctx, f.owner, f.wishlist.ID, []uuid.UUID{a.ID, b.ID})
	requireKind(t, err, KindValidation, "")
}

func TestPublicWishlistViewerKinds(t *testing.T) {
	f := newFixture(t)
	book := f.addSingle("Book")
	bike := f.addGroup("Bike", "1000")
	alice := f.guest("Alice")
	bob := f.guest("Bob")

	_, err := f.svc.Reserve(f.ctx, f.slug, book.ID, alice)
	require.NoError(t, err)
	_, err = f.svc.Contribute(f.ctx, f.slug, bike.ID, alice, dec("250"))
	require.NoError(t, err)
	_, err = f.svc.Contribute(f.ctx, f.slug, bike.ID, bob, dec("100"))
	require.NoError(t, err)

	view, err := f.svc.PublicWishlist(f.ctx, f.slug, Viewer{GuestSessionID: &alice})
	require.NoError(t, err)
	assert.Equal(t, ViewerGuest, view.ViewerKind)
	require.Len(t, view.Items, 2)
	assert.True(t, view.Items[0].IsReserved)
	assert.True(t, view.Items[0].ReservedByYou)
	assert.True(t, view.Items[1].MyContribution.Equal(dec("250")))
	assert.Equal(t, 35.0, view.Items[1].ProgressPercent)

	view, err = f.svc.PublicWishlist(f.ctx, f.slug, Viewer{GuestSessionID: &bob})
	require.NoError(t, err)
	assert.True(t, view.Items[0].IsReserved)
	assert.False(t, view.Items[0].ReservedByYou)
	assert.True(t, view.Items[1].MyContribution.Equal(dec("100")))

	stranger := uuid.New()
	view, err = f.svc.PublicWishlist(f.ctx, f.slug, Viewer{GuestSessionID: &stranger})
	require.NoError(t, err)
	assert.Equal(t, ViewerAnonymous, view.ViewerKind)

	view, err = f.svc.PublicWishlist(f.ctx, f.slug, Viewer{UserID: &f.owner})
	require.NoError(t, err)
	assert.Equal(t, ViewerOwner, view.ViewerKind)
}

func TestStartGuestSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, WithClock(func() time.Time { return now }), WithGuestTTL(48*time.Hour))

	_, err := f.svc.StartGuestSession(f.ctx, f.slug, " A ")
	requireKind(t, err, KindValidation, "Name must be between 2 and 120 characters")

	session, err := f.svc.StartGuestSession(f.ctx, f.slug, "  Alice ")
	require.NoError(t, err)
	assert.Equal(t, "Alice", session.DisplayName)
	assert.Equal(t, f.wishlist.ID, session.WishlistID)
	assert.Equal(t, now.Add(48*time.Hour), session.ExpiresAt)
	assert.True(t, session.IsActive)
}

func TestGuestSessionScopedToWishlist(t *testing.T) {
	f := newFixture(t)
	other := newFixture(t)
	book := f.addSingle("Book")

	foreign := other.guest("Mallory")
	// A session bound to another wishlist of the same store.
	w, err := f.svc.CreateWishlist(f.ctx, f.owner, WishlistInput{Title: "Second list"})
	require.NoError(t, err)
	w, err = f.svc.PublishWishlist(f.ctx, f.owner, w.ID)
	require.NoError(t, err)
	wrong, err := f.svc.StartGuestSession(f.ctx, *w.ShareSlug, "Mallory")
	require.NoError(t, err)

	for _, id := range []uuid.UUID{uuid.Nil, foreign, wrong.ID} {
		_, err := f.svc.Reserve(f.ctx, f.slug, book.ID, id)
		requireKind(t, err, KindAuth, "Guest session is required")
	}
}

func TestSessionSweeperDeactivatesExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := newFixture(t, WithClock(clock), WithGuestTTL(time.Hour))
	book := f.addSingle("Book")
	alice := f.guest("Alice")

	now = now.Add(2 * time.Hour)
	f.svc.sweepSessions(f.ctx)

	session, err := f.store.GetSession(f.ctx, alice)
	require.NoError(t, err)
	assert.False(t, session.IsActive)

	_, err = f.svc.Reserve(f.ctx, f.slug, book.ID, alice)
	requireKind(t, err, KindAuth, "")
}

func TestStartSessionSweeperStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)

	done := make(chan struct{})
	go func() {
		f.svc.StartSessionSweeper(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
