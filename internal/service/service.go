package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Kerhoff/wishlist/internal/metrics"
	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/Kerhoff/wishlist/internal/preview"
	"github.com/Kerhoff/wishlist/internal/repository"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Publisher receives events after their unit of work committed. It must
// not block.
type Publisher interface {
	Publish(e *models.Event)
}

// Previewer fetches product metadata for a URL.
type Previewer interface {
	Fetch(ctx context.Context, rawURL string) (*preview.Metadata, error)
}

type noopPublisher struct{}

func (noopPublisher) Publish(*models.Event) {}

// Service is the central business logic layer. It holds the repositories
// and implements the reservation and contribution engines on top of the
// Ledger's atomic units of work.
type Service struct {
	logger    *logrus.Logger
	Wishlists repository.WishlistRepository
	Ledger    repository.Ledger
	Events    repository.EventLog
	Sessions  repository.SessionRepository

	publisher   Publisher
	previewer   Previewer
	metrics     *metrics.Metrics
	now         func() time.Time
	guestTTL    time.Duration
	lockRetries uint
	newBackOff  func() backoff.BackOff
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithPublisher sets where committed events are pushed.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithPreviewer enables product metadata prefill on AddItem.
func WithPreviewer(p Previewer) Option {
	return func(s *Service) { s.previewer = p }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithGuestTTL sets how long a guest session stays valid.
func WithGuestTTL(d time.Duration) Option {
	return func(s *Service) { s.guestTTL = d }
}

// WithLockRetries sets how many times a unit of work is retried after a
// lock timeout before the caller gets a conflict.
func WithLockRetries(n uint) Option {
	return func(s *Service) { s.lockRetries = n }
}

// WithRetryBackOff sets the backoff policy between lock retries.
func WithRetryBackOff(f func() backoff.BackOff) Option {
	return func(s *Service) { s.newBackOff = f }
}

// New creates a new Service with all required dependencies.
func New(logger *logrus.Logger,
	wishlists repository.WishlistRepository,
	ledger repository.Ledger,
	events repository.EventLog,
	sessions repository.SessionRepository,
	opts ...Option,
) *Service {
	s := &Service{
		logger: logger, Wishlists: wishlists, Ledger: ledger,
		Events: events, Sessions: sessions,
		publisher:   noopPublisher{},
		now:         time.Now,
		guestTTL:    365 * 24 * time.Hour,
		lockRetries: 3,
		newBackOff:  defaultBackOff,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(prometheus.NewRegistry())
	}
	return s
}

// run executes fn as one unit of work and publishes the committed events.
func (s *Service) run(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	events, err := s.withLockRetry(ctx, func() ([]*models.Event, error) {
		return s.Ledger.InTx(ctx, fn)
	})
	if err != nil {
		return err
	}
	for _, e := range events {
		s.metrics.EventsAppended.WithLabelValues(string(e.EventType)).Inc()
		s.publisher.Publish(e)
	}
	return nil
}

func appendEvent(ctx context.Context, tx repository.Tx, wishlistID uuid.UUID, eventType models.EventType, itemID *uuid.UUID, payload any) error {
	e, err := models.NewEvent(wishlistID, eventType, itemID, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	return tx.AppendEvent(ctx, e)
}

// publicWishlist resolves a share slug to a published or closed wishlist.
func (s *Service) publicWishlist(ctx context.Context, slug string) (*models.Wishlist, error) {
	w, err := s.Wishlists.GetBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup wishlist (slug=%s): %w", slug, err)
	}
	if w == nil {
		return nil, newError(KindNotFound, "Public wishlist not found")
	}
	if !w.IsPublic() {
		return nil, newError(KindForbidden, "Wishlist is not published yet")
	}
	return w, nil
}

// PublicWishlistID resolves a share slug for transports that only need the
// wishlist identity, such as the realtime channel.
func (s *Service) PublicWishlistID(ctx context.Context, slug string) (uuid.UUID, error) {
	w, err := s.publicWishlist(ctx, slug)
	if err != nil {
		return uuid.Nil, err
	}
	return w.ID, nil
}
