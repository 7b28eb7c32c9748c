package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	issuer := NewIssuer("secret-key-for-tests", time.Hour, time.Hour)
	userID := uuid.New()

	token, err := issuer.IssueAccess(userID)
	require.NoError(t, err)

	got, err := issuer.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	_, err = issuer.ParseGuest(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGuestTokenRoundTrip(t *testing.T) {
	issuer := NewIssuer("secret-key-for-tests", time.Hour, time.Hour)
	sessionID, wishlistID := uuid.New(), uuid.New()

	token, err := issuer.IssueGuest(sessionID, wishlistID)
	require.NoError(t, err)

	guest, err := issuer.ParseGuest(token)
	require.NoError(t, err)
	assert.Equal(t, sessionID, guest.SessionID)
	assert.Equal(t, wishlistID, guest.WishlistID)

	_, err = issuer.ParseAccess(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRejectedTokens(t *testing.T) {
	issuer := NewIssuer("secret-key-for-tests", time.Hour, time.Hour)
	userID := uuid.New()

	t.Run("wrong key", func(t *testing.T) {
		other := NewIssuer("another-secret-key!!", time.Hour, time.Hour)
		token, err := other.IssueAccess(userID)
		require.NoError(t, err)
		_, err = issuer.ParseAccess(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewIssuer("secret-key-for-tests", time.Minute, time.Minute)
		old.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, err := old.IssueAccess(userID)
		require.NoError(t, err)
		_, err = issuer.ParseAccess(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unexpected algorithm", func(t *testing.T) {
		claims := Claims{
			Type: TokenAccess,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   userID.String(),
				Issuer:    "wishlist",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret-key-for-tests"))
		require.NoError(t, err)
		_, err = issuer.ParseAccess(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.ParseAccess("not.a.jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
