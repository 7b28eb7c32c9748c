package service

import (
	"context"
	"errors"
	"time"

	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/Kerhoff/wishlist/internal/repository"
	"github.com/cenkalti/backoff/v5"
)

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return b
}

// withLockRetry retries op while it fails with a lock timeout. Any other
// error stops immediately. Once retries run out the caller gets a conflict.
func (s *Service) withLockRetry(ctx context.Context, op func() ([]*models.Event, error)) ([]*models.Event, error) {
	attempt := 0
	events, err := backoff.Retry(ctx, func() ([]*models.Event, error) {
		attempt++
		if attempt > 1 {
			s.metrics.LockRetries.Inc()
		}
		events, err := op()
		if err == nil {
			return events, nil
		}
		if errors.Is(err, repository.ErrLockTimeout) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.lockRetries+1),
	)
	if errors.Is(err, repository.ErrLockTimeout) {
		s.logger.WithError(err).Warnf("Giving up after %d attempts", attempt)
		return nil, errLockBusy
	}
	return events, err
}
