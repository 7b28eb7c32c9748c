package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestProgress(t *testing.T) {
	d := decimal.RequireFromString
	tests := []struct {
		collected, target string
		want              float64
	}{
		{"0", "100", 0},
		{"25", "100", 25},
		{"1", "3", 33.333333333333336},
		{"150", "100", 100},
		{"10", "0", 0},
	}
	for _, tt := range tests {
		got := Progress(d(tt.collected), d(tt.target))
		assert.InDelta(t, tt.want, got, 1e-9, "%s/%s", tt.collected, tt.target)
	}
}

func TestEffectiveTarget(t *testing.T) {
	item := &WishItem{Price: decimal.NewNullDecimal(decimal.NewFromInt(80))}
	target, ok := item.EffectiveTarget()
	assert.True(t, ok)
	assert.True(t, target.Equal(decimal.NewFromInt(80)))

	item.TargetAmount = decimal.NewNullDecimal(decimal.NewFromInt(120))
	item.CollectedAmount = decimal.NewFromInt(60)
	target, _ = item.EffectiveTarget()
	assert.True(t, target.Equal(decimal.NewFromInt(120)))
	assert.Equal(t, 50.0, item.ProgressPercent())

	_, ok = (&WishItem{}).EffectiveTarget()
	assert.False(t, ok)
	assert.Zero(t, (&WishItem{}).ProgressPercent())
}

func TestGuestSessionValidFor(t *testing.T) {
	now := time.Now()
	wishlistID := uuid.New()
	g := &GuestSession{WishlistID: wishlistID, IsActive: true, ExpiresAt: now.Add(time.Hour)}

	assert.True(t, g.ValidFor(wishlistID, now))
	assert.False(t, g.ValidFor(uuid.New(), now))
	assert.False(t, g.ValidFor(wishlistID, now.Add(2*time.Hour)))

	g.IsActive = false
	assert.False(t, g.ValidFor(wishlistID, now))

	var missing *GuestSession
	assert.False(t, missing.ValidFor(wishlistID, now))
}

func TestStatusHelpers(t *testing.T) {
	w := &Wishlist{Status: WishlistStatusDraft}
	assert.False(t, w.IsPublic())
	w.Status = WishlistStatusClosed
	assert.True(t, w.IsPublic())
	assert.True(t, w.IsClosed())

	assert.True(t, ItemModeGroup.Valid())
	assert.False(t, ItemMode("split").Valid())
	assert.True(t, ItemStatusUnavailable.Valid())
	assert.False(t, ItemStatus("sold").Valid())
}
