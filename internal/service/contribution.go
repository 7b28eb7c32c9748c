package service

import (
	"context"
	"fmt"

	"github.com/Kerhoff/wishlist/internal/metrics"
	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/Kerhoff/wishlist/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ContributionResult describes an accepted contribution. Truncated is set
// when only part of the requested amount fit under the target.
type ContributionResult struct {
	ItemID          uuid.UUID       `json:"itemId"`
	AcceptedAmount  decimal.Decimal `json:"acceptedAmount"`
	CollectedAmount decimal.Decimal `json:"collectedAmount"`
	ProgressPercent float64         `json:"progressPercent"`
	Truncated       bool            `json:"truncated"`
	Message         string          `json:"message"`
}

type contributionPayload struct {
	ItemID          uuid.UUID `json:"itemId"`
	AcceptedAmount  string    `json:"acceptedAmount"`
	CollectedAmount string    `json:"collectedAmount"`
	ProgressPercent float64   `json:"progressPercent"`
}

// validateAmount accepts positive amounts with at most two fraction digits.
func validateAmount(amount decimal.Decimal, field string) error {
	if !amount.IsPositive() {
		return newError(KindValidation, "%s must be greater than 0", field)
	}
	if !amount.Equal(amount.Round(2)) {
		return newError(KindValidation, "%s must have at most 2 decimal places", field)
	}
	return nil
}

// Contribute adds funds towards a group item. A request larger than what
// is left is accepted partially, up to the target.
func (s *Service) Contribute(ctx context.Context, slug string, itemID, guestSessionID uuid.UUID, amount decimal.Decimal) (*ContributionResult, error) {
	if err := validateAmount(amount, "Amount"); err != nil {
		s.metrics.Contributions.WithLabelValues(metrics.OutcomeRejected).Inc()
		return nil, err
	}
	w, err := s.publicWishlist(ctx, slug)
	if err != nil {
		return nil, err
	}
	guest, err := s.authorizeGuest(ctx, w.ID, guestSessionID)
	if err != nil {
		return nil, err
	}

	var result ContributionResult
	err = s.run(ctx, func(ctx context.Context, tx repository.Tx) error {
		locked, err := tx.ShareWishlist(ctx, w.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return errWishlistNotFound
		}
		if locked.IsClosed() {
			return errWishlistClosed
		}

		item, err := tx.LockItem(ctx, w.ID, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return errItemNotFound
		}
		group, ok := classify(item).(groupItem)
		if !ok {
			return newError(KindConflict, "Only contributions are allowed for this item")
		}
		if !group.IsActive() {
			return errItemInactive
		}
		if !group.hasTarget {
			return newError(KindConflict, "Target amount is not set")
		}

		remaining := group.remaining()
		if !remaining.IsPositive() {
			return newError(KindConflict, "Collection already completed")
		}
		accepted := decimal.Min(amount, remaining)
		if !accepted.IsPositive() {
			return newError(KindConflict, "Minimum contribution is 1")
		}

		if err := tx.AddContribution(ctx, &models.Contribution{
			ItemID:         group.ID,
			GuestSessionID: guest.ID,
			Amount:         accepted,
			Currency:       locked.Currency,
		}); err != nil {
			return err
		}

		group.CollectedAmount = group.CollectedAmount.Add(accepted)
		if err := tx.UpdateItem(ctx, group.WishItem); err != nil {
			return err
		}

		progress := models.Progress(group.CollectedAmount, group.target)
		result = ContributionResult{
			ItemID:          group.ID,
			AcceptedAmount:  accepted,
			CollectedAmount: group.CollectedAmount,
			ProgressPercent: progress,
			Truncated:       accepted.LessThan(amount),
		}

		return appendEvent(ctx, tx, w.ID, models.EventContributionAdded, &group.ID, contributionPayload{
			ItemID:          group.ID,
			AcceptedAmount:  accepted.StringFixed(2),
			CollectedAmount: group.CollectedAmount.StringFixed(2),
			ProgressPercent: progress,
		})
	})
	if err != nil {
		if isServiceError(err) {
			s.metrics.Contributions.WithLabelValues(metrics.OutcomeRejected).Inc()
		} else {
			s.metrics.Contributions.WithLabelValues(metrics.OutcomeError).Inc()
		}
		return nil, err
	}

	outcome := metrics.OutcomeAccepted
	result.Message = "Contribution added"
	if result.Truncated {
		outcome = metrics.OutcomeTruncated
		result.Message = fmt.Sprintf("Only %s was accepted (target reached)", result.AcceptedAmount.StringFixed(2))
	}
	s.metrics.Contributions.WithLabelValues(outcome).Inc()
	amt, _ := result.AcceptedAmount.Float64()
	s.metrics.ContributedAmount.Add(amt)

	s.logger.WithFields(logrus.Fields{
		"wishlist_id":      w.ID,
		"item_id":          itemID,
		"guest_session_id": guest.ID,
		"requested":        amount.StringFixed(2),
		"accepted":         result.AcceptedAmount.StringFixed(2),
		"collected":        result.CollectedAmount.StringFixed(2),
	}).Info("Contribution added")

	return &result, nil
}
