package service

import (
	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/shopspring/decimal"
)

// itemVariant is the mode-specific shape of an item. Engines switch on it
// once at entry instead of re-checking the mode.
type itemVariant interface {
	item() *models.WishItem
}

// singleItem can be claimed by exactly one guest.
type singleItem struct {
	*models.WishItem
}

func (v singleItem) item() *models.WishItem { return v.WishItem }

// groupItem collects contributions up to target. hasTarget is false when
// neither a positive target nor a positive price is set.
type groupItem struct {
	*models.WishItem
	target    decimal.Decimal
	hasTarget bool
}

func (v groupItem) item() *models.WishItem { return v.WishItem }

func (v groupItem) remaining() decimal.Decimal {
	return v.target.Sub(v.CollectedAmount)
}

func classify(item *models.WishItem) itemVariant {
	if item.Mode == models.ItemModeGroup {
		target, ok := item.EffectiveTarget()
		return groupItem{WishItem: item, target: target, hasTarget: ok}
	}
	return singleItem{WishItem: item}
}
