// Package realtime fans committed wishlist events out to live subscribers.
//
// The event log is the source of truth for delivery. Publish only rings a
// per-subscriber doorbell; each subscriber goroutine then reads the log from
// its own cursor. A subscriber is registered before its first read, so an
// event committed during Subscribe is either in that read or rings the
// doorbell afterwards. Delivery is therefore in id order, without gaps or
// duplicates.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Kerhoff/wishlist/internal/metrics"
	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("realtime hub is closed")

const defaultPageSize = 100

// EventSource is the read side of the event log.
type EventSource interface {
	ListEvents(ctx context.Context, wishlistID uuid.UUID, afterID int64, limit int) ([]*models.Event, error)
	LatestEventID(ctx context.Context, wishlistID uuid.UUID) (int64, error)
}

// Conn is one live subscriber connection. Send may block; it only stalls
// that subscriber.
type Conn interface {
	Send(ctx context.Context, e *models.Event) error
	Close() error
}

type subscriber struct {
	wishlistID uuid.UUID
	conn       Conn
	bell       chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}
}

func (s *subscriber) ring() {
	select {
	case s.bell <- struct{}{}:
	default:
	}
}

// Hub is the process-wide registry of live subscribers keyed by wishlist.
type Hub struct {
	source   EventSource
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	pageSize int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	subs   map[uuid.UUID]map[Conn]*subscriber
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics sets the collectors for subscriber counts and drops.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithPageSize sets how many events a subscriber reads per query.
func WithPageSize(n int) Option {
	return func(h *Hub) { h.pageSize = n }
}

// NewHub creates a hub reading from source.
func NewHub(source EventSource, logger *logrus.Logger, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		source:   source,
		logger:   logger,
		pageSize: defaultPageSize,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[uuid.UUID]map[Conn]*subscriber),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = metrics.New(prometheus.NewRegistry())
	}
	return h
}

// Subscribe registers conn on a wishlist channel. With a cursor the
// subscriber first receives every event with id > *cursor; without one it
// receives events committed after the call. The hub owns conn from here on
// and closes it when the subscriber goes away.
func (h *Hub) Subscribe(wishlistID uuid.UUID, conn Conn, cursor *int64) error {
	ctx, cancel := context.WithCancel(h.ctx)
	sub := &subscriber{
		wishlistID: wishlistID,
		conn:       conn,
		bell:       make(chan struct{}, 1),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return ErrClosed
	}
	if h.subs[wishlistID] == nil {
		h.subs[wishlistID] = make(map[Conn]*subscriber)
	}
	h.subs[wishlistID][conn] = sub
	h.wg.Add(1)
	h.mu.Unlock()

	h.metrics.HubSubscribers.Inc()

	var start int64
	if cursor != nil {
		start = *cursor
	} else {
		latest, err := h.source.LatestEventID(ctx, wishlistID)
		if err != nil {
			if !h.remove(sub) {
				conn.Close()
			}
			h.wg.Done()
			return fmt.Errorf("failed to read latest event id: %w", err)
		}
		start = latest
	}

	go h.run(ctx, sub, start)
	return nil
}

// Unsubscribe stops delivery to conn and closes it.
func (h *Hub) Unsubscribe(wishlistID uuid.UUID, conn Conn) {
	h.mu.RLock()
	sub := h.subs[wishlistID][conn]
	h.mu.RUnlock()
	if sub != nil {
		sub.cancel()
		<-sub.done
	}
}

// Publish notifies the subscribers of e's wishlist. It never blocks.
func (h *Hub) Publish(e *models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs[e.WishlistID] {
		sub.ring()
	}
}

// Subscribers returns the number of live subscribers of a wishlist.
func (h *Hub) Subscribers(wishlistID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[wishlistID])
}

// Close stops every subscriber and closes their connections.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var conns []Conn
	for _, set := range h.subs {
		for conn := range set {
			conns = append(conns, conn)
		}
	}
	h.subs = make(map[uuid.UUID]map[Conn]*subscriber)
	h.metrics.HubSubscribers.Sub(float64(len(conns)))
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()

	var result *multierror.Error
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (h *Hub) run(ctx context.Context, sub *subscriber, cursor int64) {
	defer h.wg.Done()
	defer close(sub.done)

	var err error
	for {
		cursor, err = h.drain(ctx, sub, cursor)
		if err != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-sub.bell:
			continue
		}
		break
	}

	closed := h.remove(sub)
	if err != nil && ctx.Err() == nil {
		h.metrics.HubDropped.Inc()
		h.logger.WithError(err).WithField("wishlist_id", sub.wishlistID).Warn("Dropping realtime subscriber")
	}
	// On hub shutdown Close closes the connection and collects the error.
	if !closed {
		sub.conn.Close()
	}
}

// drain sends every event after cursor and returns the new cursor.
func (h *Hub) drain(ctx context.Context, sub *subscriber, cursor int64) (int64, error) {
	for {
		events, err := h.source.ListEvents(ctx, sub.wishlistID, cursor, h.pageSize)
		if err != nil {
			return cursor, fmt.Errorf("failed to read events after %d: %w", cursor, err)
		}
		for _, e := range events {
			if err := sub.conn.Send(ctx, e); err != nil {
				return cursor, fmt.Errorf("failed to send event %d: %w", e.ID, err)
			}
			cursor = e.ID
		}
		if len(events) < h.pageSize {
			return cursor, nil
		}
	}
}

// remove unregisters sub and reports whether the hub has been closed, in
// which case Close owns the connection.
func (h *Hub) remove(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return true
	}
	set := h.subs[sub.wishlistID]
	if set[sub.conn] != sub {
		return false
	}
	delete(set, sub.conn)
	if len(set) == 0 {
		delete(h.subs, sub.wishlistID)
	}
	h.metrics.HubSubscribers.Dec()
	return false
}
