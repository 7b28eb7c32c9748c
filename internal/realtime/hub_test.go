package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Kerhoff/wishlist/internal/metrics"
	"github.com/Kerhoff/wishlist/internal/models"
	"github.com/Kerhoff/wishlist/internal/repository"
	"github.com/Kerhoff/wishlist/internal/repository/memory"
	"github.com/Kerhoff/wishlist/pkg/logger"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// fakeConn records delivered events. Send fails once failAt events were
// delivered, when failAt > 0.
type fakeConn struct {
	mu       sync.Mutex
	events   []*models.Event
	failAt   int
	closeErr error
	closed   chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (c *fakeConn) Send(ctx context.Context, e *models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAt > 0 && len(c.events) >= c.failAt {
		return errors.New("broken pipe")
	}
	c.events = append(c.events, e)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return c.closeErr
}

func (c *fakeConn) ids() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.events))
	for i, e := range c.events {
		out[i] = e.ID
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type hubFixture struct {
	t       *testing.T
	store   *memory.Store
	hub     *Hub
	metrics *metrics.Metrics
}

func newHubFixture(t *testing.T, opts ...Option) *hubFixture {
	store := memory.New()
	m := metrics.New(prometheus.NewRegistry())
	hub := NewHub(store, logger.Discard(), append([]Option{WithMetrics(m)}, opts...)...)
	t.Cleanup(func() { hub.Close() })
	return &hubFixture{t: t, store: store, hub: hub, metrics: m}
}

// commit appends one event per type in a single unit of work and publishes
// them, as the service does.
func (f *hubFixture) commit(wishlistID uuid.UUID, types ...models.EventType) []int64 {
	events, err := f.store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		for _, typ := range types {
			e, err := models.NewEvent(wishlistID, typ, nil, map[string]string{"type": string(typ)})
			if err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(f.t, err)
	ids := make([]int64, len(events))
	for i, e := range events {
		ids[i] = e.ID
		f.hub.Publish(e)
	}
	return ids
}

func TestHubReplayThenLiveGapFree(t *testing.T) {
	f := newHubFixture(t, WithPageSize(3))
	wishlist := uuid.New()

	history := f.commit(wishlist, models.EventItemReserved, models.EventItemUnreserved,
		models.EventItemReserved, models.EventContributionAdded, models.EventItemUpdated)

	conn := newFakeConn()
	cursor := history[1]
	require.NoError(t, f.hub.Subscribe(wishlist, conn, &cursor))

	var want []int64
	want = append(want, history[2:]...)

	// Commits racing with replay must neither be lost nor duplicated.
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := f.commit(wishlist, models.EventContributionAdded)
			mu.Lock()
			want = append(want, ids...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Events of another wishlist are not delivered.
	f.commit(uuid.New(), models.EventWishlistClosed)

	require.Eventually(t, func() bool { return len(conn.ids()) == len(want) }, waitFor, 5*time.Millisecond)
	got := conn.ids()
	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i], got[i-1])
	}
	assert.ElementsMatch(t, want, got)
	assert.Equal(t, 1, f.hub.Subscribers(wishlist))
}

func TestHubSubscribeWithoutCursorSkipsHistory(t *testing.T) {
	f := newHubFixture(t)
	wishlist := uuid.New()
	f.commit(wishlist, models.EventItemReserved, models.EventItemUnreserved)

	conn := newFakeConn()
	require.NoError(t, f.hub.Subscribe(wishlist, conn, nil))

	live := f.commit(wishlist, models.EventWishlistClosed)
	require.Eventually(t, func() bool { return len(conn.ids()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, live, conn.ids())
}

func TestHubDropsFailingSubscriber(t *testing.T) {
	f := newHubFixture(t)
	wishlist := uuid.New()

	healthy := newFakeConn()
	broken := newFakeConn()
	broken.failAt = 1
	require.NoError(t, f.hub.Subscribe(wishlist, healthy, nil))
	require.NoError(t, f.hub.Subscribe(wishlist, broken, nil))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.HubSubscribers))

	f.commit(wishlist, models.EventItemReserved)
	f.commit(wishlist, models.EventItemUnreserved)

	require.Eventually(t, broken.isClosed, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.hub.Subscribers(wishlist) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HubDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HubSubscribers))

	f.commit(wishlist, models.EventWishlistClosed)
	require.Eventually(t, func() bool { return len(healthy.ids()) == 3 }, waitFor, 5*time.Millisecond)
	assert.Len(t, broken.ids(), 1)
}

func TestHubUnsubscribeClosesConn(t *testing.T) {
	f := newHubFixture(t)
	wishlist := uuid.New()
	conn := newFakeConn()
	require.NoError(t, f.hub.Subscribe(wishlist, conn, nil))

	f.hub.Unsubscribe(wishlist, conn)
	assert.True(t, conn.isClosed())
	assert.Equal(t, 0, f.hub.Subscribers(wishlist))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.HubDropped))

	// Unknown connections are ignored.
	f.hub.Unsubscribe(wishlist, newFakeConn())
}

func TestHubCloseAggregatesErrors(t *testing.T) {
	f := newHubFixture(t)
	wishlist := uuid.New()

	a, b, c := newFakeConn(), newFakeConn(), newFakeConn()
	a.closeErr = errors.New("a failed")
	c.closeErr = errors.New("c failed")
	for _, conn := range []*fakeConn{a, b, c} {
		require.NoError(t, f.hub.Subscribe(wishlist, conn, nil))
	}

	err := f.hub.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Contains(t, err.Error(), "c failed")
	for _, conn := range []*fakeConn{a, b, c} {
		assert.True(t, conn.isClosed())
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.HubSubscribers))

	assert.NoError(t, f.hub.Close())
	assert.ErrorIs(t, f.hub.Subscribe(wishlist, newFakeConn(), nil), ErrClosed)
}
