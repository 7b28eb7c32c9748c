package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Kerhoff/wishlist/internal/auth"
	"github.com/Kerhoff/wishlist/internal/realtime"
	"github.com/Kerhoff/wishlist/internal/repository/memory"
	"github.com/Kerhoff/wishlist/internal/service"
	"github.com/Kerhoff/wishlist/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	t      *testing.T
	srv    *httptest.Server
	tokens *auth.Issuer
	hub    *realtime.Hub
}

func newTestAPI(t *testing.T) *testAPI {
	log := logger.Discard()
	store := memory.New()
	hub := realtime.NewHub(store, log)
	svc := service.New(log, store, store, store, store, service.WithPublisher(hub))
	tokens := auth.NewIssuer("test-signing-key-0123456789", time.Hour, time.Hour)

	srv := httptest.NewServer(NewServer(svc, tokens, hub, log).Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testAPI{t: t, srv: srv, tokens: tokens, hub: hub}
}

func (a *testAPI) ownerToken(userID uuid.UUID) string {
	token, err := a.tokens.IssueAccess(userID)
	require.NoError(a.t, err)
	return token
}

// do sends a JSON request and decodes the JSON response into out when set.
func (a *testAPI) do(method, path string, body any, headers map[string]string, out any) int {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func guest(token string) map[string]string {
	return map[string]string{GuestTokenHeader: token}
}

type wishlistResponse struct {
	ID        uuid.UUID `json:"id"`
	Status    string    `json:"status"`
	ShareSlug *string   `json:"shareSlug"`
}

type itemResponse struct {
	ID uuid.UUID `json:"id"`
}

// publishedWishlist creates a published wishlist with one single and one
// group item through the owner API.
func (a *testAPI) publishedWishlist(owner string) (slug string, single, group uuid.UUID) {
	var w wishlistResponse
	require.Equal(a.t, http.StatusCreated, a.do(http.MethodPost, "/api/wishlists",
		map[string]string{"title": "Housewarming", "currency": "eur"}, bearer(owner), &w))

	var it itemResponse
	require.Equal(a.t, http.StatusCreated, a.do(http.MethodPost, fmt.Sprintf("/api/wishlists/%s/items", w.ID),
		map[string]any{"title": "Toaster"}, bearer(owner), &it))
	single = it.ID
	require.Equal(a.t, http.StatusCreated, a.do(http.MethodPost, fmt.Sprintf("/api/wishlists/%s/items", w.ID),
		map[string]any{"title": "Sofa", "mode": "group", "targetAmount": "500"}, bearer(owner), &it))
	group = it.ID

	require.Equal(a.t, http.StatusOK, a.do(http.MethodPost, fmt.Sprintf("/api/wishlists/%s/publish", w.ID),
		nil, bearer(owner), &w))
	require.NotNil(a.t, w.ShareSlug)
	return *w.ShareSlug, single, group
}

func (a *testAPI) guestToken(slug, name string) string {
	var resp guestSessionResponse
	require.Equal(a.t, http.StatusCreated, a.do(http.MethodPost, "/api/public/w/"+slug+"/guest-session",
		map[string]string{"name": name}, nil, &resp))
	require.NotEmpty(a.t, resp.Token)
	return resp.Token
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/health", nil, nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestOwnerRoutesRequireToken(t *testing.T) {
	a := newTestAPI(t)
	var body map[string]string

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/wishlists", nil, nil, &body))
	assert.Equal(t, "Authentication required", body["error"])

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/wishlists", nil, bearer("garbage"), &body))
	assert.Equal(t, "Invalid access token", body["error"])

	// A guest token is not an access token.
	slug, _, _ := a.publishedWishlist(a.ownerToken(uuid.New()))
	guestToken := a.guestToken(slug, "Alice")
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/wishlists", nil, bearer(guestToken), &body))
}

func TestBadRequests(t *testing.T) {
	a := newTestAPI(t)
	owner := a.ownerToken(uuid.New())
	var body map[string]string

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/wishlists", nil, bearer(owner), &body))
	assert.Equal(t, "request body is empty", body["error"])

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/wishlists/not-a-uuid", nil, bearer(owner), &body))
	assert.Equal(t, "invalid wishlistID", body["error"])

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/public/w/nope", nil, nil, &body))
	assert.Equal(t, "Public wishlist not found", body["error"])
}

func TestGuestFlow(t *testing.T) {
	a := newTestAPI(t)
	owner := a.ownerToken(uuid.New())
	slug, single, group := a.publishedWishlist(owner)
	alice := a.guestToken(slug, "Alice")
	bob := a.guestToken(slug, "Bob")
	reservePath := fmt.Sprintf("/api/public/w/%s/items/%s/reserve", slug, single)

	var body map[string]any
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodPost, reservePath, nil, nil, &body))
	assert.Equal(t, "Guest session is required", body["error"])

	var res service.ReservationResult
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, reservePath, nil, guest(alice), &res))
	assert.True(t, res.IsReserved)
	assert.Equal(t, single, res.ItemID)

	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, reservePath, nil, guest(bob), &body))
	assert.Equal(t, "Item is already reserved", body["error"])
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodDelete, reservePath, nil, guest(bob), &body))

	var contribution map[string]any
	require.Equal(t, http.StatusOK, a.do(http.MethodPost,
		fmt.Sprintf("/api/public/w/%s/items/%s/contributions", slug, group),
		map[string]string{"amount": "600"}, guest(bob), &contribution))
	assert.Equal(t, "500", contribution["acceptedAmount"])
	assert.Equal(t, true, contribution["truncated"])
	assert.Equal(t, 100.0, contribution["progressPercent"])

	var view service.PublicWishlistView
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/public/w/"+slug, nil, guest(alice), &view))
	assert.Equal(t, service.ViewerGuest, view.ViewerKind)
	require.Len(t, view.Items, 2)
	for _, it := range view.Items {
		if it.ID == single {
			assert.True(t, it.IsReserved)
			assert.True(t, it.ReservedByYou)
		}
	}

	var page service.EventPage
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/public/w/"+slug+"/events?limit=200", nil, nil, &page))
	require.NotEmpty(t, page.Events)
	require.NotNil(t, page.NextCursor)
	assert.Equal(t, page.Events[len(page.Events)-1].ID, *page.NextCursor)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/public/w/"+slug+"/events?cursor=-3", nil, nil, &body))
	assert.Equal(t, "cursor must be a non-negative integer", body["error"])
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/public/w/"+slug+"/events?limit=201", nil, nil, &body))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/public/w/"+slug+"/events?limit=0", nil, nil, &body))
	assert.Equal(t, "limit must be between 1 and 200", body["error"])

	require.Equal(t, http.StatusOK, a.do(http.MethodDelete, reservePath, nil, guest(alice), &res))
	assert.False(t, res.IsReserved)
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestRealtimeSubscription(t *testing.T) {
	a := newTestAPI(t)
	owner := a.ownerToken(uuid.New())
	slug, single, _ := a.publishedWishlist(owner)
	alice := a.guestToken(slug, "Alice")

	var page service.EventPage
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/public/w/"+slug+"/events", nil, nil, &page))
	history := len(page.Events)
	require.Positive(t, history)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(a.srv, "/ws/public/w/"+slug+"?cursor=0"), nil)
	require.NoError(t, err)
	defer ws.Close()

	var res service.ReservationResult
	require.Equal(t, http.StatusOK, a.do(http.MethodPost,
		fmt.Sprintf("/api/public/w/%s/items/%s/reserve", slug, single), nil, guest(alice), &res))

	// Replay the history first, then the live reservation.
	var last int64
	for i := 0; i <= history; i++ {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var e struct {
			ID        int64      `json:"id"`
			EventType string     `json:"eventType"`
			ItemID    *uuid.UUID `json:"itemId"`
		}
		require.NoError(t, ws.ReadJSON(&e))
		assert.Greater(t, e.ID, last)
		last = e.ID
		if i == history {
			assert.Equal(t, "item_reserved", e.EventType)
			require.NotNil(t, e.ItemID)
			assert.Equal(t, single, *e.ItemID)
		}
	}
}

func TestRealtimeRejectsUnknownWishlist(t *testing.T) {
	a := newTestAPI(t)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(a.srv, "/ws/public/w/missing"), nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}
