package service

import (
	"context"
	"testing"

	"github.com/Kerhoff/wishlist/internal/preview"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPreviewer struct {
	meta *preview.Metadata
	err  error
}

func (p stubPreviewer) Fetch(ctx context.Context, rawURL string) (*preview.Metadata, error) {
	return p.meta, p.err
}

func TestFetchPreview(t *testing.T) {
	f := newFixture(t, WithPreviewer(stubPreviewer{err: preview.ErrPrivateHost}))
	_, err := f.svc.FetchPreview(f.ctx, "http://10.0.0.1/")
	requireKind(t, err, KindValidation, "Requests to private hosts are blocked")

	f = newFixture(t, WithPreviewer(stubPreviewer{err: assert.AnError}))
	_, err = f.svc.FetchPreview(f.ctx, "https://shop.example/p/1")
	requireKind(t, err, KindValidation, "Failed to fetch metadata from URL")

	f = newFixture(t)
	_, err = f.svc.FetchPreview(f.ctx, "https://shop.example/p/1")
	requireKind(t, err, KindValidation, "Link preview is disabled")
}

func TestAddItemPrefillsFromPreview(t *testing.T) {
	meta := &preview.Metadata{Title: "Kettle 1.7L", ImageURL: "https://cdn.example/k.jpg"}
	meta.Price.Valid = true
	meta.Price.Decimal = dec("2490")
	f := newFixture(t, WithPreviewer(stubPreviewer{meta: meta}))

	item, err := f.svc.AddItem(f.ctx, f.owner, f.wishlist.ID, ItemInput{ProductURL: "https://shop.example/kettle"})
	require.NoError(t, err)
	assert.Equal(t, "Kettle 1.7L", item.Title)
	assert.Equal(t, "https://cdn.example/k.jpg", item.ImageURL)
	require.True(t, item.Price.Valid)
	assert.True(t, item.Price.Decimal.Equal(dec("2490")))

	// Explicit fields win over the page.
	item, err = f.svc.AddItem(f.ctx, f.owner, f.wishlist.ID, ItemInput{Title: "My kettle", ProductURL: "https://shop.example/kettle"})
	require.NoError(t, err)
	assert.Equal(t, "My kettle", item.Title)
}

func TestOwnerWishlistHidesOtherOwners(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.OwnerWishlist(f.ctx, uuid.New(), f.wishlist.ID)
	requireKind(t, err, KindNotFound, "Wishlist not found")
}
